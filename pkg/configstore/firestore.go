package configstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultFirestoreCollection holds one document per config, keyed by config id.
const DefaultFirestoreCollection = "assistant_configs"

// FirestoreConfig contains configuration for the Firestore store.
type FirestoreConfig struct {
	ProjectID       string
	CredentialsFile string
	Collection      string
}

// FirestoreOption configures a FirestoreStore.
type FirestoreOption func(*FirestoreConfig)

// WithProjectID sets the GCP project ID.
func WithProjectID(projectID string) FirestoreOption {
	return func(c *FirestoreConfig) {
		c.ProjectID = projectID
	}
}

// WithCredentialsFile sets the path to service account credentials.
func WithCredentialsFile(path string) FirestoreOption {
	return func(c *FirestoreConfig) {
		c.CredentialsFile = path
	}
}

// WithCollection overrides the collection name.
func WithCollection(name string) FirestoreOption {
	return func(c *FirestoreConfig) {
		if name != "" {
			c.Collection = name
		}
	}
}

// FirestoreStore implements Store on Cloud Firestore.
//
// Options:
//   - WithProjectID(id): Set GCP project ID (required)
//   - WithCredentialsFile(path): Use service account credentials
//   - Otherwise uses Application Default Credentials, or the emulator when
//     FIRESTORE_EMULATOR_HOST is set
//
// Listing by owner needs a composite index on (owner_id, created_at).
type FirestoreStore struct {
	client  *firestore.Client
	collRef *firestore.CollectionRef
	mu      sync.RWMutex
	closed  bool
}

// NewFirestoreStore creates a Firestore-backed store.
func NewFirestoreStore(ctx context.Context, opts ...FirestoreOption) (*FirestoreStore, error) {
	config := &FirestoreConfig{Collection: DefaultFirestoreCollection}
	for _, opt := range opts {
		opt(config)
	}

	if config.ProjectID == "" {
		return nil, errors.New("project ID is required")
	}

	var clientOpts []option.ClientOption
	if config.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, config.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	return &FirestoreStore{
		client:  client,
		collRef: client.Collection(config.Collection),
	}, nil
}

func (f *FirestoreStore) checkOpen() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrStorageClosed
	}
	return nil
}

func (f *FirestoreStore) Get(ctx context.Context, id string) (AssistantConfig, error) {
	if err := f.checkOpen(); err != nil {
		return AssistantConfig{}, err
	}

	docSnap, err := f.collRef.Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return AssistantConfig{}, ErrNotFound
		}
		return AssistantConfig{}, fmt.Errorf("get config: %w", err)
	}

	var cfg AssistantConfig
	if err := docSnap.DataTo(&cfg); err != nil {
		return AssistantConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func (f *FirestoreStore) Put(ctx context.Context, cfg AssistantConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := f.checkOpen(); err != nil {
		return err
	}

	if _, err := f.collRef.Doc(cfg.ID).Set(ctx, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

func (f *FirestoreStore) Delete(ctx context.Context, id string) error {
	if err := f.checkOpen(); err != nil {
		return err
	}

	// Delete on a missing document succeeds; require existence instead.
	_, err := f.collRef.Doc(id).Delete(ctx, firestore.Exists)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return fmt.Errorf("delete config: %w", err)
	}
	return nil
}

func (f *FirestoreStore) List(ctx context.Context, opts ListOptions) ([]AssistantConfig, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}

	query := f.collRef.Query
	if opts.OwnerID != "" {
		query = query.Where("owner_id", "==", opts.OwnerID)
	}
	query = query.OrderBy("created_at", firestore.Asc)
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	out := make([]AssistantConfig, 0)
	for {
		docSnap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list configs: %w", err)
		}

		var cfg AssistantConfig
		if err := docSnap.DataTo(&cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", docSnap.Ref.ID, err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Ping reads at most one document to verify connectivity.
func (f *FirestoreStore) Ping(ctx context.Context) error {
	if err := f.checkOpen(); err != nil {
		return err
	}

	iter := f.collRef.Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && err != iterator.Done {
		return fmt.Errorf("ping firestore: %w", err)
	}
	return nil
}

// Close releases the Firestore client.
func (f *FirestoreStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.client.Close()
}
