// Package realtime manages the speech channel to the voice tutor: ephemeral
// credential issuance and a bidirectional event stream whose transcript events
// surface as conversation turns.
package realtime

import (
	"context"
	"errors"

	"github.com/lingora/lingora/internal/model"
)

// ErrCredentialUnavailable is returned when the credential endpoint does not
// yield a usable client secret.
var ErrCredentialUnavailable = errors.New("realtime credential unavailable")

// Config carries everything a single channel needs. Token is an ephemeral
// client secret consumed exactly once at connect time.
type Config struct {
	Token        string
	Instructions string
	Voice        string
}

// Channel is one live conversation stream. All methods may be called
// concurrently; Close is idempotent.
type Channel interface {
	// SendUserText injects a text message on behalf of the learner.
	SendUserText(text string) error
	// RequestResponse asks the tutor to produce its next spoken turn.
	RequestResponse() error
	// Interrupt cancels the tutor's in-flight response.
	Interrupt() error
	// Turns delivers completed conversation turns from both speakers. The
	// channel is closed when the stream ends.
	Turns() <-chan model.Turn
	// Err returns the first error that terminated the stream, if any.
	Err() error
	Close() error
}

// Dialer establishes channels. Implemented by OpenAIDialer and by the test
// doubles in the mock subpackage.
type Dialer interface {
	Connect(ctx context.Context, cfg Config) (Channel, error)
}

// TokenSource issues ephemeral client secrets for Config.Token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}
