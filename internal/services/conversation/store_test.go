package conversation

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/kirillgpt-bot-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userTurn(i int) models.Turn {
	return models.Turn{Role: models.RoleUser, Content: fmt.Sprintf("msg-%d", i)}
}

func TestAppendTrimsToMostRecent(t *testing.T) {
	const limit = 5
	s := NewStore(limit)

	for i := 0; i < 12; i++ {
		got := s.Append(1, userTurn(i))
		assert.LessOrEqual(t, len(got), limit)
	}

	history := s.History(1)
	require.Len(t, history, limit)
	for i, turn := range history {
		assert.Equal(t, fmt.Sprintf("msg-%d", 7+i), turn.Content)
	}
}

func TestReturnedHistoryIsACopy(t *testing.T) {
	s := NewStore(10)
	got := s.Append(1, userTurn(0))
	got[0].Content = "tampered"

	assert.Equal(t, "msg-0", s.History(1)[0].Content)
}

func TestAppendAndRenderSeesTrimmedHistory(t *testing.T) {
	s := NewStore(2)
	s.Append(3, userTurn(0))
	s.Append(3, models.Turn{Role: models.RoleAssistant, Content: "reply"})

	out := s.AppendAndRender(3, userTurn(1), func(turns []models.Turn) string {
		parts := make([]string, 0, len(turns))
		for _, turn := range turns {
			parts = append(parts, string(turn.Role)+"="+turn.Content)
		}
		return strings.Join(parts, ",")
	})

	assert.Equal(t, "assistant=reply,user=msg-1", out)
}

func TestClearIsIdempotent(t *testing.T) {
	s := NewStore(10)
	s.Clear(9)

	s.Append(9, userTurn(0))
	s.Clear(9)
	s.Clear(9)

	assert.Empty(t, s.History(9))
	assert.Nil(t, s.History(404))
}

func TestConcurrentUsersKeepOwnOrder(t *testing.T) {
	s := NewStore(1000)

	var wg sync.WaitGroup
	for u := int64(0); u < 8; u++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Append(userID, userTurn(i))
			}
		}(u)
	}
	wg.Wait()

	assert.Equal(t, 8, s.Users())
	for u := int64(0); u < 8; u++ {
		history := s.History(u)
		require.Len(t, history, 100)
		for i, turn := range history {
			assert.Equal(t, fmt.Sprintf("msg-%d", i), turn.Content)
		}
	}
}
