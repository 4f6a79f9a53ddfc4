// Package users manages the user directory: minted identities with
// generated nicknames, cookie-based recognition, and the anonymous
// fallback used to attribute draws from sessions without an account.
package users

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pixelwall/pixelwall/pkg/types"
)

// SessionCookie is the HTTP cookie carrying the user id across visits.
const SessionCookie = "pixelwall_session"

// CookieTTL is how long a minted identity is remembered by the browser.
const CookieTTL = 30 * 24 * time.Hour

var nicknameAdjectives = []string{
	"Brave", "Calm", "Daring", "Eager", "Fuzzy", "Gentle", "Happy", "Jolly",
	"Keen", "Lively", "Merry", "Nimble", "Proud", "Quick", "Swift", "Witty",
}

var nicknameAnimals = []string{
	"Otter", "Badger", "Falcon", "Heron", "Ibex", "Jackal", "Koala", "Lynx",
	"Marmot", "Narwhal", "Ocelot", "Puffin", "Quokka", "Raven", "Stoat", "Walrus",
}

// palette holds the display colors assigned to new users. Distinct from
// canvas pixel colors, which are free-form #RRGGBB.
var palette = []string{
	"#FF6B6B", "#F06595", "#CC5DE8", "#845EF7", "#5C7CFA", "#339AF0",
	"#22B8CF", "#20C997", "#51CF66", "#94D82D", "#FCC419", "#FF922B",
}

// Store is the persistence the directory needs. Satisfied by
// *store.Store.
type Store interface {
	InsertUser(ctx context.Context, u types.User) error
	GetUser(ctx context.Context, id string) (types.User, bool, error)
}

// Directory mints and looks up user identities.
type Directory struct {
	store Store
	newID func() string
}

func NewDirectory(store Store) *Directory {
	return &Directory{store: store, newID: uuid.NewString}
}

// Create mints a user with a fresh id, a generated nickname, and a
// palette color. An id collision is retried once with a new id before
// giving up.
func (d *Directory) Create(ctx context.Context) (types.User, error) {
	u := types.User{
		Nickname:  randomNickname(),
		Color:     palette[rand.IntN(len(palette))],
		CreatedAt: time.Now().UTC(),
	}
	for attempt := 0; attempt < 2; attempt++ {
		u.ID = d.newID()
		err := d.store.InsertUser(ctx, u)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, types.ErrConflict) {
			return types.User{}, err
		}
	}
	return types.User{}, types.ErrConflict
}

// Get looks up a user by id.
func (d *Directory) Get(ctx context.Context, id string) (types.User, bool, error) {
	return d.store.GetUser(ctx, id)
}

// Resolve returns the id draws from a session are attributed to: the
// cookie's user when the directory knows it, otherwise the deterministic
// anonymous id for the session.
func (d *Directory) Resolve(ctx context.Context, cookieID, sessionID string) (string, error) {
	if cookieID != "" {
		_, ok, err := d.store.GetUser(ctx, cookieID)
		if err != nil {
			return "", err
		}
		if ok {
			return cookieID, nil
		}
	}
	return AnonymousID(sessionID), nil
}

// AnonymousID derives the attribution id for a session that has no known
// user. Stable for the lifetime of the session id.
func AnonymousID(sessionID string) string {
	return "anon-" + sessionID
}

func randomNickname() string {
	adj := nicknameAdjectives[rand.IntN(len(nicknameAdjectives))]
	animal := nicknameAnimals[rand.IntN(len(nicknameAnimals))]
	return adj + animal + strconv.Itoa(rand.IntN(90)+10)
}
