package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/chahalrohit/smart-expense-tracker/pkg/db"
)

const collectionName = "users"

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already registered")

	// ErrIndexesPending is returned by writes until EnsureIndexes succeeds.
	// It wraps db.ErrNotConnected so callers treat it as an unavailable store.
	ErrIndexesPending = fmt.Errorf("%w: user indexes not ensured", db.ErrNotConnected)
)

// DatabaseSource hands out the current database. It fails while the
// connection is down.
type DatabaseSource interface {
	Database() (*mongo.Database, error)
}

type Repository struct {
	src     DatabaseSource
	indexed atomic.Bool
}

func NewRepository(src DatabaseSource) *Repository {
	return &Repository{src: src}
}

func (r *Repository) collection() (*mongo.Collection, error) {
	d, err := r.src.Database()
	if err != nil {
		return nil, err
	}
	return d.Collection(collectionName), nil
}

// EnsureIndexes creates the unique email index. Safe to call on every
// connect. Create is refused until it has succeeded once.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	coll, err := r.collection()
	if err != nil {
		return err
	}
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	})
	if err != nil {
		return err
	}
	r.indexed.Store(true)
	return nil
}

// Ready reports whether writes are accepted.
func (r *Repository) Ready() error {
	if !r.indexed.Load() {
		return ErrIndexesPending
	}
	return nil
}

func (r *Repository) Create(ctx context.Context, u *User) error {
	if err := r.Ready(); err != nil {
		return err
	}
	coll, err := r.collection()
	if err != nil {
		return err
	}
	u.Email = normalizeEmail(u.Email)
	if _, err := coll.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, bson.M{"email": normalizeEmail(email)})
}

func (r *Repository) FindByID(ctx context.Context, id string) (*User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *Repository) findOne(ctx context.Context, filter bson.M) (*User, error) {
	coll, err := r.collection()
	if err != nil {
		return nil, err
	}
	var u User
	if err := coll.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
