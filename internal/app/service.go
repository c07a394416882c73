package app

import (
	"context"
	"log"
	"net/http"

	"doubtdesk/bot/internal/bot"
	"doubtdesk/bot/internal/dispatch"
	"doubtdesk/bot/internal/search"
)

// Conversation is the bot state machine.
type Conversation interface {
	Handle(ctx context.Context, ev bot.Event) []bot.Reply
	RestartCandidates(ctx context.Context) ([]string, error)
	RestartNotice(ctx context.Context, identity string) []bot.Reply
}

// Transport decodes inbound webhook requests and delivers replies.
type Transport interface {
	ParseRequest(r *http.Request) (bot.Event, bool, error)
	Deliver(ctx context.Context, reply bot.Reply) error
}

type DoubtSearcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is a named dependency pinged by the readiness endpoint.
type Check struct {
	Name   string
	Pinger Pinger
}

type Deps struct {
	Conversation Conversation
	Transport    Transport
	Dispatcher   *dispatch.Dispatcher
	Search       DoubtSearcher
	Checks       []Check
}

// Service wires inbound events through the per-identity dispatcher to the
// state machine and hands replies back to the transport.
type Service struct {
	conversation Conversation
	transport    Transport
	dispatcher   *dispatch.Dispatcher
	search       DoubtSearcher
	checks       []Check
}

func New(deps Deps) *Service {
	return &Service{
		conversation: deps.Conversation,
		transport:    deps.Transport,
		dispatcher:   deps.Dispatcher,
		search:       deps.Search,
		checks:       deps.Checks,
	}
}

func (s *Service) ParseUpdate(r *http.Request) (bot.Event, bool, error) {
	return s.transport.ParseRequest(r)
}

// Enqueue queues the event behind earlier events from the same identity.
func (s *Service) Enqueue(ev bot.Event) error {
	if ev.Identity == "" {
		return errNoIdentity
	}
	err := s.dispatcher.Submit(ev.Identity, func(ctx context.Context) {
		s.deliver(ctx, s.conversation.Handle(ctx, ev))
	})
	return dispatchError(err)
}

func (s *Service) deliver(ctx context.Context, replies []bot.Reply) {
	for _, reply := range replies {
		if err := s.transport.Deliver(ctx, reply); err != nil {
			log.Printf("app: deliver to %s: %v", reply.Identity, err)
		}
	}
}

// NotifyRestart tells every still-logged-in user that the bot came back.
// Each identity's check and notice run as one dispatcher job, so they are
// ordered with that identity's live traffic.
func (s *Service) NotifyRestart(ctx context.Context) {
	identities, err := s.conversation.RestartCandidates(ctx)
	if err != nil {
		log.Printf("app: restart notices: %v", err)
		return
	}
	queued := 0
	for _, identity := range identities {
		if err := s.dispatcher.Submit(identity, func(ctx context.Context) {
			s.deliver(ctx, s.conversation.RestartNotice(ctx, identity))
		}); err != nil {
			log.Printf("app: queue restart notice for %s: %v", identity, err)
			continue
		}
		queued++
	}
	log.Printf("app: queued %d restart checks", queued)
}

func (s *Service) SearchDoubts(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(ctx, q)
}

// Ready pings every dependency. The map holds nil for healthy checks.
func (s *Service) Ready(ctx context.Context) map[string]error {
	results := make(map[string]error, len(s.checks))
	for _, check := range s.checks {
		results[check.Name] = check.Pinger.Ping(ctx)
	}
	return results
}

// Shutdown drains queued events.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.dispatcher.Shutdown(ctx)
}
