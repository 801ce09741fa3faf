package webpush

import "testing"

// TestSubscriber exposes the reference receiver to the webpush_test package.
type TestSubscriber = testSubscriber

var NewTestSubscriber = newTestSubscriber

func (s *testSubscriber) Keys() Keys { return s.keys() }

func (s *testSubscriber) Decrypt(t *testing.T, body []byte) []byte { return s.decrypt(t, body) }
