package services

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

type IDGen struct {
	MaxRetries int
	GetID      func(ctx context.Context, kind, id string) (*GenID, error)
	NextIDFunc func(kind string) string
}

// NextID returns an id for kind that GetID does not know about yet.
func (i *IDGen) NextID(ctx context.Context, kind string) (genid *GenID, err error) {
	id := i.NextIDFunc(kind)
	// Only check for collisions if a getter is provided. Without one the
	// NextIDFunc is trusted to be collision free.
	if i.GetID != nil {
		for attempt := 0; i.MaxRetries <= 0 || attempt < i.MaxRetries; attempt++ {
			genid, err = i.GetID(ctx, kind, id)
			if err != nil {
				slog.Error("Error checking id", "kind", kind, "id", id, "error", err)
				return nil, err
			} else if genid == nil {
				break
			}
			id = i.NextIDFunc(kind)
		}
		if genid != nil {
			return nil, ErrIDsExhausted
		}
	}
	return &GenID{Id: id, Kind: kind}, nil
}

type SimpleIDGen struct {
	Letters    []rune
	MaxDigits  int
	RandSource *rand.Rand

	mu sync.Mutex
}

func (s *SimpleIDGen) NextID(kind string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Letters) == 0 {
		s.Letters = []rune("abcdefghijklmnopqrstuvwxyz0123456789")
	}
	if s.MaxDigits <= 0 {
		s.MaxDigits = 8
	}
	if s.RandSource == nil {
		s.RandSource = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s.randSeq()
}

func (s *SimpleIDGen) randSeq() string {
	b := make([]rune, s.MaxDigits)
	for i := range b {
		b[i] = s.Letters[s.RandSource.Intn(len(s.Letters))]
	}
	return string(b)
}
