package piv

import (
	"fmt"
	"strings"

	"github.com/ebfe/scard"
)

// scardTransport is the PC/SC implementation of Transport.
type scardTransport struct {
	ctx  *scard.Context
	card *scard.Card
}

func (s *scardTransport) Transmit(command []byte) ([]byte, error) {
	return s.card.Transmit(command)
}

func (s *scardTransport) Close() error {
	err := s.card.Disconnect(scard.ResetCard)
	if rerr := s.ctx.Release(); err == nil {
		err = rerr
	}
	return err
}

// Readers lists the names of attached smart-card readers.
func Readers() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenCommunication, err)
	}
	defer func() { _ = ctx.Release() }()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenCommunication, err)
	}
	return readers, nil
}

// OpenToken connects to exactly one attached token and opens its PIV
// application. The operator attends one device at a time; zero devices is
// ErrNoToken and more than one is ErrTooManyTokens so a command can never
// silently pick the wrong card.
func OpenToken() (*Token, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenCommunication, err)
	}

	readers, err := ctx.ListReaders()
	if err != nil {
		_ = ctx.Release()
		return nil, fmt.Errorf("%w: %v", ErrTokenCommunication, err)
	}
	readers = filterTokenReaders(readers)
	switch {
	case len(readers) == 0:
		_ = ctx.Release()
		return nil, ErrNoToken
	case len(readers) > 1:
		_ = ctx.Release()
		return nil, fmt.Errorf("%w: %s", ErrTooManyTokens, strings.Join(readers, ", "))
	}

	card, err := ctx.Connect(readers[0], scard.ShareExclusive, scard.ProtocolT1)
	if err != nil {
		_ = ctx.Release()
		return nil, fmt.Errorf("%w: %v", ErrTokenCommunication, err)
	}

	token, err := NewToken(&scardTransport{ctx: ctx, card: card})
	if err != nil {
		_ = card.Disconnect(scard.ResetCard)
		_ = ctx.Release()
		return nil, err
	}
	return token, nil
}

// filterTokenReaders drops readers that cannot hold a PIV token
// (contactless duplicates of the same physical device).
func filterTokenReaders(readers []string) []string {
	var out []string
	for _, r := range readers {
		if strings.Contains(strings.ToLower(r), "nfc") {
			continue
		}
		out = append(out, r)
	}
	return out
}
