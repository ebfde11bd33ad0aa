package stream

import (
	"fmt"
	"sort"
	"strings"

	"schwabstream/pkg/schwab"
)

// Subscription is a streamer command. Empty Fields means all fields.
// Keys is ignored for View.
type Subscription struct {
	Service schwab.Service
	Command schwab.Command // SUBS, ADD, UNSUBS or VIEW
	Keys    []string
	Fields  []string
}

// Subscribe builds a SUBS command.
func Subscribe(service schwab.Service, keys []string, fields ...string) Subscription {
	return Subscription{Service: service, Command: schwab.CommandSubs, Keys: keys, Fields: fields}
}

// Add builds an ADD command.
func Add(service schwab.Service, keys []string, fields ...string) Subscription {
	return Subscription{Service: service, Command: schwab.CommandAdd, Keys: keys, Fields: fields}
}

// Unsubscribe builds an UNSUBS command.
func Unsubscribe(service schwab.Service, keys ...string) Subscription {
	return Subscription{Service: service, Command: schwab.CommandUnsubs, Keys: keys}
}

// View builds a VIEW command.
func View(service schwab.Service, fields ...string) Subscription {
	return Subscription{Service: service, Command: schwab.CommandView, Fields: fields}
}

// normalize validates sub and rewrites its fields to sorted numeric ids and
// its keys to a de-duplicated list.
func (sub Subscription) normalize() (Subscription, error) {
	if !sub.Service.IsMarketData() {
		return Subscription{}, fmt.Errorf("unsupported service %q", sub.Service)
	}

	switch sub.Command {
	case schwab.CommandSubs, schwab.CommandAdd, schwab.CommandUnsubs:
		keys := make([]string, 0, len(sub.Keys))
		seen := make(map[string]struct{}, len(sub.Keys))
		for _, k := range sub.Keys {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		if len(keys) == 0 {
			return Subscription{}, fmt.Errorf("%s %s: no keys", sub.Command, sub.Service)
		}
		sub.Keys = keys
	case schwab.CommandView:
		sub.Keys = nil
	default:
		return Subscription{}, fmt.Errorf("unsupported command %q", sub.Command)
	}

	if sub.Command == schwab.CommandUnsubs {
		sub.Fields = nil
		return sub, nil
	}
	fields, err := schwab.NormalizeFields(sub.Service, sub.Fields)
	if err != nil {
		return Subscription{}, err
	}
	sub.Fields = fields
	return sub, nil
}

// fieldSet is the wire field selection of one key. all absorbs any union.
type fieldSet struct {
	all bool
	ids map[string]struct{}
}

func newFieldSet(fields []string) fieldSet {
	if len(fields) == 0 {
		return fieldSet{all: true}
	}
	fs := fieldSet{ids: make(map[string]struct{}, len(fields))}
	for _, f := range fields {
		fs.ids[f] = struct{}{}
	}
	return fs
}

func (fs fieldSet) union(fields []string) fieldSet {
	if fs.all || len(fields) == 0 {
		return fieldSet{all: true}
	}
	out := fieldSet{ids: make(map[string]struct{}, len(fs.ids)+len(fields))}
	for f := range fs.ids {
		out.ids[f] = struct{}{}
	}
	for _, f := range fields {
		out.ids[f] = struct{}{}
	}
	return out
}

// list returns the ids in numeric order, nil for all.
func (fs fieldSet) list() []string {
	if fs.all {
		return nil
	}
	out := make([]string, 0, len(fs.ids))
	for f := range fs.ids {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) < len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

func (fs fieldSet) signature() string {
	if fs.all {
		return "*"
	}
	return strings.Join(fs.list(), ",")
}

// Registry is the desired subscription set, keyed by (service, symbol).
// It is not safe for concurrent use; Session guards it.
type Registry struct {
	entries map[schwab.Service]map[string]fieldSet
	views   map[schwab.Service][]string
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[schwab.Service]map[string]fieldSet),
		views:   make(map[schwab.Service][]string),
	}
}

// Apply merges sub into the registry and returns the wire commands that bring
// the venue to the new state. sub must be normalized.
//
// SUBS and ADD union fields per key. The first subscription of a service goes
// out as SUBS, later ones as ADD so earlier keys stay subscribed.
func (r *Registry) Apply(sub Subscription) []Subscription {
	switch sub.Command {
	case schwab.CommandSubs, schwab.CommandAdd:
		keys := r.entries[sub.Service]
		fresh := len(keys) == 0
		if keys == nil {
			keys = make(map[string]fieldSet)
			r.entries[sub.Service] = keys
		}
		for _, k := range sub.Keys {
			if cur, ok := keys[k]; ok {
				keys[k] = cur.union(sub.Fields)
			} else {
				keys[k] = newFieldSet(sub.Fields)
			}
		}

		wire := r.group(sub.Service, sub.Keys)
		for i := range wire {
			wire[i].Command = schwab.CommandAdd
		}
		if fresh && len(wire) > 0 {
			wire[0].Command = schwab.CommandSubs
		}
		return wire

	case schwab.CommandUnsubs:
		if keys := r.entries[sub.Service]; keys != nil {
			for _, k := range sub.Keys {
				delete(keys, k)
			}
			if len(keys) == 0 {
				delete(r.entries, sub.Service)
			}
		}
		return []Subscription{sub}

	case schwab.CommandView:
		if len(sub.Fields) == 0 {
			delete(r.views, sub.Service)
		} else {
			r.views[sub.Service] = append([]string(nil), sub.Fields...)
		}
		return []Subscription{sub}
	}
	return nil
}

// Snapshot returns the minimal SUBS commands reproducing the registry: keys of
// a service sharing a field-set are grouped. Ordered by service, then first key.
func (r *Registry) Snapshot() []Subscription {
	services := make([]string, 0, len(r.entries))
	for svc := range r.entries {
		services = append(services, string(svc))
	}
	sort.Strings(services)

	var out []Subscription
	for _, svc := range services {
		keys := make([]string, 0, len(r.entries[schwab.Service(svc)]))
		for k := range r.entries[schwab.Service(svc)] {
			keys = append(keys, k)
		}
		out = append(out, r.group(schwab.Service(svc), keys)...)
	}
	return out
}

// Replay is Snapshot rendered for a fresh connection: the first command of
// each service is SUBS, the rest ADD, followed by the VIEW projections.
func (r *Registry) Replay() []Subscription {
	snap := r.Snapshot()
	for i := range snap {
		if i > 0 && snap[i-1].Service == snap[i].Service {
			snap[i].Command = schwab.CommandAdd
		}
	}

	services := make([]string, 0, len(r.views))
	for svc := range r.views {
		services = append(services, string(svc))
	}
	sort.Strings(services)
	for _, svc := range services {
		snap = append(snap, View(schwab.Service(svc), r.views[schwab.Service(svc)]...))
	}
	return snap
}

// Fields returns the field ids tracked for key (nil = all) and whether it exists.
func (r *Registry) Fields(service schwab.Service, key string) ([]string, bool) {
	fs, ok := r.entries[service][key]
	if !ok {
		return nil, false
	}
	return fs.list(), true
}

// View returns the local field projection of service, nil when unset.
func (r *Registry) View(service schwab.Service) []string {
	return append([]string(nil), r.views[service]...)
}

// Len returns the number of tracked (service, symbol) entries.
func (r *Registry) Len() int {
	n := 0
	for _, keys := range r.entries {
		n += len(keys)
	}
	return n
}

// group returns one SUBS per distinct field-set among keys, keys sorted.
func (r *Registry) group(service schwab.Service, keys []string) []Subscription {
	bySig := make(map[string]*Subscription)
	var order []string
	for _, k := range keys {
		fs, ok := r.entries[service][k]
		if !ok {
			continue
		}
		sig := fs.signature()
		sub, ok := bySig[sig]
		if !ok {
			sub = &Subscription{Service: service, Command: schwab.CommandSubs, Fields: fs.list()}
			bySig[sig] = sub
			order = append(order, sig)
		}
		sub.Keys = append(sub.Keys, k)
	}

	out := make([]Subscription, 0, len(order))
	for _, sig := range order {
		sub := bySig[sig]
		sort.Strings(sub.Keys)
		out = append(out, *sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Keys[0] < out[j].Keys[0] })
	return out
}
