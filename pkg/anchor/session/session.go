// Package session abstracts the browser tab the anchor engine operates on.
// The engine is written entirely against the Session interface so it can be
// exercised with in-memory fakes; the chromedp-backed implementation lives in
// this package as well.
package session

import (
	"context"
	"encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// jsonAPI decodes script evaluation results. Script payloads are small and
// frequent, so the faster drop-in codec is used over encoding/json.
var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Session is the contract for a single browser tab. Navigate and
// ExecuteScript honor the caller's context deadline.
type Session interface {
	// ID returns the unique ID of the session.
	ID() string
	// Navigate loads a URL in the session's tab.
	Navigate(ctx context.Context, url string) error
	// ExecuteScript evaluates a JavaScript expression in the page and returns
	// the raw JSON result. If args are supplied, script must be a function
	// expression and is applied to them.
	ExecuteScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error)
	// Close releases the tab. Idempotent.
	Close(ctx context.Context) error
}

// Eval runs script in the session and decodes the JSON result into out.
// A nil out discards the result.
func Eval(ctx context.Context, s Session, script string, out interface{}) error {
	raw, err := s.ExecuteScript(ctx, script, nil)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := jsonAPI.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding script result: %w", err)
	}
	return nil
}
