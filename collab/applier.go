package collab

import (
	"context"
	"log/slog"
)

// Applier feeds inbound operations into a session with Remote provenance.
// Failures are per cell and never stop the stream.
type Applier struct {
	session *Session
	logger  *slog.Logger
}

func NewApplier(s *Session) *Applier {
	return &Applier{session: s, logger: s.logger}
}

// Apply handles one inbound message and reports whether the graph changed.
func (a *Applier) Apply(op Operation) bool {
	switch {
	case op.Type == MsgSnapshot:
		state, err := op.DecodeSnapshot()
		if err == nil {
			err = a.session.Merge(state)
		}
		if err != nil {
			a.logger.Warn("Dropping snapshot", "sessionId", a.session.ID, "error", err)
			return false
		}
		return true
	case op.Type == MsgResync:
		return false
	case op.SessionID == a.session.ID:
		// already reflected locally
		return false
	}

	out, err := a.session.ApplyOperation(op, Remote)
	if err != nil {
		a.logger.Warn("Dropping inbound operation", "op", op.String(), "from", op.SessionID, "error", err)
		return false
	}
	return out.Applied
}

// Run applies operations until in is closed or ctx is done.
func (a *Applier) Run(ctx context.Context, in <-chan Operation) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case op, ok := <-in:
			if !ok {
				return nil
			}
			a.Apply(op)
		}
	}
}
