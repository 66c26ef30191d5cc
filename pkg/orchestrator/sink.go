package orchestrator

import "github.com/cexll/assistant-go/pkg/chat"

// TokenSink receives the observable output of a running turn: incremental
// text as it decodes, the finished assistant message, or a failure.
type TokenSink interface {
	OnToken(text string)
	OnDone(msg chat.Message)
	OnError(err error)
}

// SinkFuncs adapts plain functions to TokenSink. Nil fields are skipped.
type SinkFuncs struct {
	Token func(text string)
	Done  func(msg chat.Message)
	Err   func(err error)
}

var _ TokenSink = SinkFuncs{}

func (s SinkFuncs) OnToken(text string) {
	if s.Token != nil {
		s.Token(text)
	}
}

func (s SinkFuncs) OnDone(msg chat.Message) {
	if s.Done != nil {
		s.Done(msg)
	}
}

func (s SinkFuncs) OnError(err error) {
	if s.Err != nil {
		s.Err(err)
	}
}
