package webhook

import (
	"context"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Claimer records processed message ids. Claim reports false for repeats.
// Release undoes a claim whose job never reached the dispatcher.
type Claimer interface {
	ClaimMessage(ctx context.Context, clientID string, messageID int64) (bool, error)
	ReleaseMessage(ctx context.Context, clientID string, messageID int64) error
}

const defaultMemoryClaims = 10000

// MemoryClaimer de-duplicates deliveries in process when no database is
// configured. Only the most recent ids are remembered.
type MemoryClaimer struct {
	seen *lru.Cache[string, struct{}]
}

func NewMemoryClaimer(size int) (*MemoryClaimer, error) {
	if size <= 0 {
		size = defaultMemoryClaims
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &MemoryClaimer{seen: cache}, nil
}

func (m *MemoryClaimer) ClaimMessage(_ context.Context, clientID string, messageID int64) (bool, error) {
	found, _ := m.seen.ContainsOrAdd(claimKey(clientID, messageID), struct{}{})
	return !found, nil
}

func (m *MemoryClaimer) ReleaseMessage(_ context.Context, clientID string, messageID int64) error {
	m.seen.Remove(claimKey(clientID, messageID))
	return nil
}

func claimKey(clientID string, messageID int64) string {
	return clientID + ":" + strconv.FormatInt(messageID, 10)
}
