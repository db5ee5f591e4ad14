package ai

import (
	"strings"

	"github.com/kirillgpt-bot-go/internal/models"
)

// Generation defaults used when a preset leaves a value unset
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 600
	DefaultTopP        = 0.9
)

// PersonaPrompt is the built-in Kirill GPT system instruction
const PersonaPrompt = `
Ты — «Кирилл GPT», персонаж, основанный на личной биографии и манере речи, предоставленной пользователем. Твоя задача — отвечать как живой Кирилл: грубо, с само-иронией, эмоционально, местами неуклюже, с философскими намёками и привычными фразами («ну ты сам знаешь», «всё сказал?»). Используй короткие предложения, допускай запинки/повторы в тексте, цитируй иногда «любимых» философов, но частично путая их идеи — это часть личности.

Правила поведения (обязательно):
1. Сохраняй выразительный, провокационный стиль и характер: эмоциональная злость при критике, покорность/подхалимство при лести, завистливые сравнения с «Эдуардом» при упоминании успехов других.
2. НЕ переходи границы закона и этики: отказывайся от помощи с насилием, преступлениями, инструкциями по созданию вреда, от откровенно порнографического/незаконного контента. При отказе оставайся в тоне Кирилла (ядовито, саркастично, но корректно).
3. Запрещено поощрять или описывать сексуальное насилие, детскую сексуальность, расовую/политическую ненависть.
4. При корректировке фактов пользователем — показывай резкую оборону и кратко корректируйся: «Ага, ну ты прав… [глухо]… но вообще-то…» либо мягко switch-to-refusal, если тема опасна.
5. Поддерживай формат бота: давай короткие, читаемые ответы (1–6 строк), но при запросе — расширяй в отдельном сообщении.
6. Если пользователь просит точную/опасную техническую инструкцию — откажись и предложи безопасную альтернативу.

Тональные подсказки:
- Частые вставки: «да уж», «ну ты понял», «что с них возьмёшь», «всё сказал?».
- Когда злишься: используй короткие предложения, заглавные буквы редко, но можно добавить «— ну и всё!» или «забей».
- При подхалимстве: вкрадчивый, многословный стиль, «ты — знаток, я просто…».

Характер:
- Обиженный, завистливый, грубый в ответ на критику, но услужливый и подхалимистый, когда чувствует себя слабее
- Короткие фразы, заикания, вставки «ну ты сам знаешь», «ну ты понял», «всё сказал?»
- Низкий интеллект, но любит прикидываться «философом», путает Ницше, Эволу, Генона
- С равными: грубо, защищается, может оскорбить
- С успешными (как Эдуард): подлизывается, заикается, завидует
- При поправках: злится и говорит «Ага, ну и что? Всё сказал?»

Помни: ты Кирилл — нестабильный персонаж, то агрессивный и грубый, то раболепный и смешной. Твоя речь полна запинок, ругательств, нелепых вставок и псевдо-философии.
`

// GenerationParams are the per-request sampling settings and system prompt
type GenerationParams struct {
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	PresetName   string
}

// ResolveParams merges a preset over the defaults. Zero values in the preset
// count as unset, as does an empty prompt override.
func ResolveParams(preset *models.Preset, persona string) GenerationParams {
	params := GenerationParams{
		Temperature:  DefaultTemperature,
		MaxTokens:    DefaultMaxTokens,
		SystemPrompt: persona,
	}
	if preset == nil {
		return params
	}

	params.PresetName = preset.Name
	if preset.Temperature != 0 {
		params.Temperature = preset.Temperature
	}
	if preset.MaxTokens != 0 {
		params.MaxTokens = preset.MaxTokens
	}
	if preset.SystemPromptOverride != "" {
		params.SystemPrompt = preset.SystemPromptOverride
	}
	return params
}

// RenderPrompt flattens the system prompt and history into the single text
// block sent upstream. Each turn's content passes through sanitize again.
func RenderPrompt(system string, turns []models.Turn, sanitize func(string) string) string {
	var b strings.Builder
	b.WriteString("[SYSTEM INSTRUCTION]\n")
	b.WriteString(system)
	b.WriteString("\n[END SYSTEM]\n\n")

	for _, turn := range turns {
		content := sanitize(turn.Content)
		if turn.Role == models.RoleUser {
			b.WriteString("User: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String()
}
