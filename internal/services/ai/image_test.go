package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/kirillgpt-bot-go/internal/i18n"
	"github.com/kirillgpt-bot-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestImageEngine(t *testing.T, client *fakeClient, allow bool) (*ImageEngine, *i18n.Localizer) {
	t.Helper()
	phrases := newTestPhrases(t)
	return NewImageEngine(testAIConfig(), client, stubLimiter{allow: allow}, phrases, nil, logger.NewNopLogger()), phrases
}

func TestGenerateImageSuccess(t *testing.T) {
	client := &fakeClient{imageFn: func(int) ([][]byte, error) {
		return [][]byte{[]byte("png-bytes")}, nil
	}}
	engine, phrases := newTestImageEngine(t, client, true)

	result, err := engine.Generate(context.Background(), 1, "кот")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, []byte("png-bytes"), result.Image)
	captions := phrases.Variants(i18n.MsgImageCaption, map[string]interface{}{"Description": "кот"})
	assert.Contains(t, captions, result.Comment)

	require.Len(t, client.imageReqs, 1)
	req := client.imageReqs[0]
	assert.Equal(t, "image-model", req.Model)
	assert.Equal(t, 1, req.Count)
	assert.Equal(t, "16:9", req.AspectRatio)
	assert.Contains(t, req.Prompt, "кот")
	assert.Contains(t, req.Prompt, "Dal")
}

func TestGenerateImageFailureFallsBackToSketch(t *testing.T) {
	client := &fakeClient{
		imageFn: func(int) ([][]byte, error) { return nil, errors.New("billing required") },
		textFn:  textReply("Кот из козявок, ну ты понял."),
	}
	engine, phrases := newTestImageEngine(t, client, true)

	result, err := engine.Generate(context.Background(), 1, "кот")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Nil(t, result.Image)
	parts := strings.SplitN(result.Comment, "\n\nА так бы выглядело: ", 2)
	require.Len(t, parts, 2)
	excuses := phrases.Variants(i18n.MsgImageExcuse, map[string]interface{}{"Description": "кот"})
	assert.Contains(t, excuses, parts[0])
	assert.Equal(t, "Кот из козявок, ну ты понял.", parts[1])

	require.Len(t, client.textReqs, 1)
	assert.Equal(t, 0.8, client.textReqs[0].Temperature)
	assert.Equal(t, 200, client.textReqs[0].MaxOutputTokens)
	assert.Contains(t, client.textReqs[0].Prompt, "'кот'")
}

func TestGenerateImageSketchFailureKeepsExcuse(t *testing.T) {
	client := &fakeClient{
		imageFn: func(int) ([][]byte, error) { return nil, errors.New("billing required") },
		textFn:  func(int) (json.RawMessage, error) { return nil, errors.New("down") },
	}
	engine, phrases := newTestImageEngine(t, client, true)

	result, err := engine.Generate(context.Background(), 1, "кот")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Nil(t, result.Image)
	excuses := phrases.Variants(i18n.MsgImageExcuse, map[string]interface{}{"Description": "кот"})
	assert.Contains(t, excuses, result.Comment)
}

func TestGenerateImageRateLimited(t *testing.T) {
	client := &fakeClient{}
	engine, _ := newTestImageEngine(t, client, false)

	result, err := engine.Generate(context.Background(), 1, "кот")

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Nil(t, result)
	assert.Empty(t, client.imageReqs)
}

func TestGenerateImageNoImages(t *testing.T) {
	client := &fakeClient{imageFn: func(int) ([][]byte, error) { return nil, nil }}
	engine, _ := newTestImageEngine(t, client, true)

	result, err := engine.Generate(context.Background(), 1, "кот")

	assert.NoError(t, err)
	assert.Nil(t, result)
}
