package emitter

import (
	"strings"
	"time"

	"github.com/contentwire/contentwire/cfg"
	"github.com/contentwire/contentwire/populate"
	"github.com/contentwire/contentwire/store"
)

// Default settle delays. Re-fetches issued immediately after commit can
// observe slightly stale state; these absorb that window.
const (
	DefaultRefetchDelay = 50 * time.Millisecond
	DefaultBulkDelay    = 100 * time.Millisecond
	DefaultDeleteDelay  = 100 * time.Millisecond
)

// Subscription is the immutable descriptor for one monitored content type:
// the subset of write actions to emit for and the populate configuration for
// post-commit re-fetches. Built once from static configuration at process
// start.
type Subscription struct {
	Model        store.Model
	Actions      map[store.Action]bool
	Populate     populate.Config
	RefetchDelay time.Duration
	BulkDelay    time.Duration
	DeleteDelay  time.Duration
}

// Wants reports whether the subscription emits for the given action.
func (s *Subscription) Wants(action store.Action) bool {
	return s.Actions[action]
}

// SubscriptionsFromConfig builds subscription descriptors from loaded
// configuration. Populate values are classified here, once; nothing
// re-inspects raw config at event time.
func SubscriptionsFromConfig(configs []cfg.SubscriptionConfiguration) []*Subscription {
	subs := make([]*Subscription, 0, len(configs))

	for _, c := range configs {
		actions := make(map[store.Action]bool, len(c.Actions))
		for _, a := range c.Actions {
			actions[store.Action(a)] = true
		}

		singular := c.Singular
		if singular == "" {
			singular = singularFromUID(c.Model)
		}

		subs = append(subs, &Subscription{
			Model: store.Model{
				UID:      c.Model,
				Singular: singular,
			},
			Actions:      actions,
			Populate:     populate.Parse(c.Populate),
			RefetchDelay: delayOrDefault(c.RefetchDelayMS, DefaultRefetchDelay),
			BulkDelay:    delayOrDefault(c.BulkDelayMS, DefaultBulkDelay),
			DeleteDelay:  delayOrDefault(c.DeleteDelayMS, DefaultDeleteDelay),
		})
	}

	return subs
}

func delayOrDefault(ms int, def time.Duration) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

// singularFromUID derives the singular name from a content type UID,
// e.g. "api::article.article" -> "article".
func singularFromUID(uid string) string {
	if i := strings.LastIndexByte(uid, '.'); i >= 0 && i+1 < len(uid) {
		return uid[i+1:]
	}
	return uid
}
