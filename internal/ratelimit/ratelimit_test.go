package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessageLimiterMonotonicity(t *testing.T) {
	l := NewMessageLimiter(MaxMessagesPerWindow, time.Minute)
	current := time.Now()
	l.now = func() time.Time { return current }

	for i := 0; i < MaxMessagesPerWindow; i++ {
		require.True(t, l.Admit("k"), "message %d should be admitted", i)
	}
	require.False(t, l.Admit("k"), "501st message should be denied")

	current = current.Add(61 * time.Second)
	require.True(t, l.Admit("k"), "a message 61s later should be admitted again")
}

func TestMessageLimiterRemove(t *testing.T) {
	l := NewMessageLimiter(1, time.Minute)
	require.True(t, l.Admit("k"))
	require.False(t, l.Admit("k"))

	l.Remove("k")
	require.True(t, l.Admit("k"))
}

func TestConnectionLimiterCap(t *testing.T) {
	l := NewConnectionLimiter(MaxConnectionsPerIP, time.Minute)
	for i := 0; i < MaxConnectionsPerIP; i++ {
		require.True(t, l.Admit("1.2.3.4"), "connection %d should be admitted", i)
	}
	require.False(t, l.Admit("1.2.3.4"), "51st connection should be denied")

	l.Release("1.2.3.4")
	require.True(t, l.Admit("1.2.3.4"), "after a close, the next should be admitted")
}

func TestDocumentCreationLimiter(t *testing.T) {
	l := NewDocumentCreationLimiter(128, time.Hour)
	current := time.Now()
	l.now = func() time.Time { return current }

	for i := 0; i < MaxDocumentsPerHour; i++ {
		ok, reason := l.Admit("9.9.9.9")
		require.True(t, ok, reason)
	}
	ok, reason := l.Admit("9.9.9.9")
	require.False(t, ok)
	require.NotEmpty(t, reason)
}

func TestDocumentCreationLimiterLifetimeCap(t *testing.T) {
	l := NewDocumentCreationLimiter(128, time.Hour)
	current := time.Now()
	l.now = func() time.Time { return current }

	for i := 0; i < MaxDocumentsPerIP; i++ {
		current = current.Add(2 * time.Hour) // stay clear of the hourly cap
		ok, _ := l.Admit("8.8.8.8")
		require.True(t, ok)
	}
	current = current.Add(2 * time.Hour)
	ok, reason := l.Admit("8.8.8.8")
	require.False(t, ok)
	require.NotEmpty(t, reason)
}
