package storage

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordClassifier(t *testing.T) {
	flagged := []string{
		"patient-123",
		"Diagnosis: T2DM",
		`{"medication":"metformin"}`,
		"LAB RESULT pending",
		"icd10 E11.9",
		"embedded: outPATIENTvisit",
	}
	for _, v := range flagged {
		assert.True(t, KeywordClassifier([]byte(v)), "%q should be flagged", v)
	}

	clean := []string{
		"",
		"theme=dark",
		`{"sidebar":"collapsed","locale":"en-US"}`,
		"last_tab=schedule",
	}
	for _, v := range clean {
		assert.False(t, KeywordClassifier([]byte(v)), "%q should pass", v)
	}
}

func TestIsLegacyPHIKey(t *testing.T) {
	assert.True(t, isLegacyPHIKey("dictation_draft"))
	assert.True(t, isLegacyPHIKey("SOAP_NOTE_BACKUP"))
	assert.False(t, isLegacyPHIKey("ui_theme"))
}

func TestClientStore_RejectsPHI(t *testing.T) {
	rejections := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_rejections_total"})
	store := NewClientStore(nil, rejections)

	err := store.Set("notes", []byte("diagnosis: hypertension"), 0)
	assert.ErrorIs(t, err, ErrPHIWriteRejected)

	_, ok := store.Get("notes")
	assert.False(t, ok, "a rejected value must not be stored")
	assert.Equal(t, float64(1), testutil.ToFloat64(rejections))
}

func TestClientStore_RoundTrip(t *testing.T) {
	store := NewClientStore(nil, nil)

	require.NoError(t, store.Set("ui_theme", []byte("dark"), 0))
	got, ok := store.Get("ui_theme")
	require.True(t, ok)
	assert.Equal(t, []byte("dark"), got)

	store.Delete("ui_theme")
	_, ok = store.Get("ui_theme")
	assert.False(t, ok)
}

func TestClientStore_TTL(t *testing.T) {
	store := NewClientStore(nil, nil)
	current := time.Now()
	store.now = func() time.Time { return current }

	require.NoError(t, store.Set("banner_dismissed", []byte("1"), time.Minute))
	require.NoError(t, store.Set("ui_theme", []byte("dark"), 0))

	_, ok := store.Get("banner_dismissed")
	assert.True(t, ok)

	current = current.Add(2 * time.Minute)
	_, ok = store.Get("banner_dismissed")
	assert.False(t, ok, "expired item must be gone")
	assert.NotContains(t, store.Keys(), "banner_dismissed", "expired items are removed on read")

	_, ok = store.Get("ui_theme")
	assert.True(t, ok, "zero ttl means no expiry")
}

func TestClientStore_Clear(t *testing.T) {
	store := NewClientStore(nil, nil)
	require.NoError(t, store.Set("a", []byte("1"), 0))
	require.NoError(t, store.Set("b", []byte("2"), 0))
	assert.Len(t, store.Keys(), 2)

	store.Clear()
	assert.Empty(t, store.Keys())
}

func TestClientStore_CustomClassifier(t *testing.T) {
	// a permissive classifier turns the guard off entirely
	store := NewClientStore(func([]byte) bool { return false }, nil)
	assert.NoError(t, store.Set("notes", []byte("diagnosis: anything goes"), 0))
}
