package server

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/pdfquery/internal/answer"
	"github.com/hyperjump/pdfquery/internal/exchange"
	"github.com/hyperjump/pdfquery/internal/hint"
	"github.com/hyperjump/pdfquery/internal/models"
	"github.com/hyperjump/pdfquery/internal/session"
	"github.com/hyperjump/pdfquery/internal/storage"
)

// Entry is the live session of one owner and the exchange bound to it.
type Entry struct {
	Session  *session.Session
	Exchange *exchange.Exchange
}

// Registry keeps owner sessions in memory and drops them after an idle period.
type Registry struct {
	cache  *cache.Cache
	group  singleflight.Group
	store  storage.Store
	hints  hint.Store
	gen    answer.Generator
	exOpts []exchange.Option
	logger *zap.Logger
}

// NewRegistry creates a Registry. Sessions unused for idle are evicted.
func NewRegistry(store storage.Store, hints hint.Store, gen answer.Generator, idle, cleanup time.Duration, logger *zap.Logger, exOpts ...exchange.Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		cache:  cache.New(idle, cleanup),
		store:  store,
		hints:  hints,
		gen:    gen,
		exOpts: append([]exchange.Option{exchange.WithLogger(logger)}, exOpts...),
		logger: logger,
	}
	r.cache.OnEvicted(func(owner string, _ interface{}) {
		logger.Debug("session evicted", zap.String("owner", owner))
	})
	return r
}

// Get returns the owner's entry, loading the session on first use.
func (r *Registry) Get(ctx context.Context, owner models.Owner) (*Entry, error) {
	if x, ok := r.cache.Get(owner.ID); ok {
		e := x.(*Entry)
		r.cache.SetDefault(owner.ID, e)
		return e, nil
	}
	v, err, _ := r.group.Do(owner.ID, func() (interface{}, error) {
		if x, ok := r.cache.Get(owner.ID); ok {
			return x, nil
		}
		sess := session.New(r.store, r.hints, session.WithLogger(r.logger))
		e := &Entry{Session: sess, Exchange: exchange.New(sess, r.gen, r.exOpts...)}
		if err := sess.Initialize(context.WithoutCancel(ctx), owner); err != nil {
			if session.IsLoadError(err) {
				// Usable but empty; not cached so the next request retries the load.
				r.logger.Warn("serving empty session", zap.String("owner", owner.ID), zap.Error(err))
				return e, nil
			}
			return nil, fmt.Errorf("initialize session: %w", err)
		}
		if id := sess.ActiveID(); id != "" {
			if err := e.Exchange.EnsureGreeting(context.WithoutCancel(ctx), id); err != nil {
				r.logger.Warn("greet restored document", zap.String("owner", owner.ID), zap.String("id", id), zap.Error(err))
			}
		}
		r.cache.SetDefault(owner.ID, e)
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

// Touch extends the idle deadline of owner's session if it is loaded.
func (r *Registry) Touch(ownerID string) {
	if x, ok := r.cache.Get(ownerID); ok {
		r.cache.SetDefault(ownerID, x)
	}
}

// Len returns the number of loaded sessions.
func (r *Registry) Len() int {
	return r.cache.ItemCount()
}
