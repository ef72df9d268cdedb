package geocache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usittel/nap-proximity/internal/domain"
)

// --- mocks ---

type memStore struct {
	entries   map[string]Entry
	loadErr   error
	saveErr   error
	saves     int
	lastDelta []string
}

func (m *memStore) Load(_ context.Context) (map[string]Entry, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make(map[string]Entry, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Save(_ context.Context, entries map[string]Entry, changed []string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.lastDelta = changed
	m.entries = entries
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var alsina = domain.GeoPoint{Lat: -37.3205, Lon: -59.1340}

// --- tests ---

func TestCache_LookupIsCaseInsensitive(t *testing.T) {
	c := Open(context.Background(), &memStore{}, discardLogger())

	require.True(t, c.Store("Alsina 956", Resolved(alsina, "Alsina 956, Tandil")))

	e, ok := c.Lookup("ALSINA   956")
	require.True(t, ok)
	assert.True(t, e.Success)
	assert.Equal(t, alsina, e.Point())
}

func TestCache_SuccessIsNeverDowngraded(t *testing.T) {
	c := Open(context.Background(), &memStore{}, discardLogger())

	require.True(t, c.Store("alsina 956", Resolved(alsina, "")))
	assert.False(t, c.Store("alsina 956", Failed(domain.ReasonServiceError, "timeout", "")))
	assert.False(t, c.Store("alsina 956", Resolved(domain.GeoPoint{Lat: -37.4, Lon: -59.2}, "")))

	e, ok := c.Lookup("alsina 956")
	require.True(t, ok)
	assert.True(t, e.Success)
	assert.Equal(t, alsina, e.Point())
}

func TestCache_FailureCanBeUpgraded(t *testing.T) {
	c := Open(context.Background(), &memStore{}, discardLogger())

	require.True(t, c.Store("mitre 1020", Failed(domain.ReasonNotFound, "", "")))
	require.True(t, c.Store("mitre 1020", Failed(domain.ReasonServiceError, "503", "")))
	e, _ := c.Lookup("mitre 1020")
	assert.Equal(t, domain.ReasonServiceError, e.Reason)

	require.True(t, c.Store("mitre 1020", Resolved(alsina, "")))
	e, _ = c.Lookup("mitre 1020")
	assert.True(t, e.Success)
}

func TestCache_EmptyKeyIgnored(t *testing.T) {
	c := Open(context.Background(), &memStore{}, discardLogger())
	assert.False(t, c.Store("   ", Resolved(alsina, "")))
	assert.Equal(t, 0, c.Stats().Total)
}

func TestCache_FlushWritesOnlyWhenDirty(t *testing.T) {
	store := &memStore{}
	c := Open(context.Background(), store, discardLogger())
	ctx := context.Background()

	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, 0, store.saves)

	c.Store("alsina 956", Resolved(alsina, ""))
	c.Store("mitre 1020", Failed(domain.ReasonNotFound, "", ""))
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, []string{"alsina 956", "mitre 1020"}, store.lastDelta)
	assert.Len(t, store.entries, 2)

	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, 0, c.Stats().Pending)
}

func TestCache_FlushErrorKeepsChangesPending(t *testing.T) {
	store := &memStore{saveErr: errors.New("disk full")}
	c := Open(context.Background(), store, discardLogger())

	c.Store("alsina 956", Resolved(alsina, ""))
	err := c.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, c.Stats().Pending)

	store.saveErr = nil
	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 0, c.Stats().Pending)
}

func TestCache_OpenSurvivesUnreadableStore(t *testing.T) {
	c := Open(context.Background(), &memStore{loadErr: errors.New("garbled")}, discardLogger())
	assert.Equal(t, 0, c.Stats().Total)
}

func TestCache_OpenCanonicalizesLoadedKeys(t *testing.T) {
	store := &memStore{entries: map[string]Entry{"Alsina 956": Resolved(alsina, "")}}
	c := Open(context.Background(), store, discardLogger())

	_, ok := c.Lookup("alsina 956")
	assert.True(t, ok)
}

func TestCache_ForgetAndClear(t *testing.T) {
	store := &memStore{}
	c := Open(context.Background(), store, discardLogger())
	ctx := context.Background()

	c.Store("alsina 956", Resolved(alsina, ""))
	c.Store("mitre 1020", Resolved(alsina, ""))
	c.Store("paz 10", Failed(domain.ReasonOutOfArea, "", ""))
	require.NoError(t, c.Flush(ctx))

	assert.True(t, c.Forget("Alsina 956"))
	assert.False(t, c.Forget("alsina 956"))
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, []string{"alsina 956"}, store.lastDelta)
	assert.NotContains(t, store.entries, "alsina 956")

	// A forgotten success can be replaced.
	assert.True(t, c.Store("alsina 956", Failed(domain.ReasonNotFound, "", "")))

	assert.Equal(t, 3, c.Clear())
	require.NoError(t, c.Flush(ctx))
	assert.Empty(t, store.entries)
}

func TestCache_Stats(t *testing.T) {
	c := Open(context.Background(), &memStore{}, discardLogger())

	c.Store("a 1", Resolved(alsina, ""))
	c.Store("b 2", Resolved(alsina, ""))
	c.Store("c 3", Failed(domain.ReasonOutOfArea, "", ""))
	c.Store("d 4", Failed(domain.ReasonNotFound, "", ""))
	c.Store("e 5", Failed(domain.ReasonNotFound, "", ""))

	s := c.Stats()
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 2, s.Resolved)
	assert.Equal(t, 3, s.Failed)
	assert.Equal(t, 2, s.ByReason[domain.ReasonNotFound])
	assert.Equal(t, 1, s.ByReason[domain.ReasonOutOfArea])
	assert.Equal(t, 5, s.Pending)
}

func TestEntry_Timestamps(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	domain.SetClock(fake)
	t.Cleanup(func() { domain.SetClock(nil) })

	e := Failed(domain.ReasonNotFound, "no match", "Paz 10, Tandil")
	assert.Equal(t, fake.Now(), e.UpdatedAt)
	assert.False(t, e.Success)
	assert.Equal(t, "Paz 10, Tandil", e.Query)
}
