package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sparedes88/projector/pkg/broadcast"
	"go.uber.org/zap"
)

// maxTxRetries bounds optimistic WATCH/MULTI retries under contention
const maxTxRetries = 8

// Redis is a Store backed by Redis. Records are JSON strings, tenant
// indexes are sets, changes fan out over pub/sub, and the signaling log
// is a stream.
type Redis struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedis creates a Redis store. All keys start with prefix.
func NewRedis(client *redis.Client, prefix string, logger *zap.Logger) *Redis {
	if prefix == "" {
		prefix = "projector"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, prefix: prefix, logger: logger}
}

func (r *Redis) screenIndexKey(tenant string) string {
	return fmt.Sprintf("%s:tenant:%s:screens", r.prefix, tenant)
}

func (r *Redis) screenKey(tenant, id string) string {
	return fmt.Sprintf("%s:tenant:%s:screen:%s", r.prefix, tenant, id)
}

func (r *Redis) changesChannel(tenant, id string) string {
	return r.screenKey(tenant, id) + ":changes"
}

func (r *Redis) signalStreamKey(tenant, id string) string {
	return r.screenKey(tenant, id) + ":signals"
}

func (r *Redis) signalSeqKey(tenant, id string) string {
	return r.screenKey(tenant, id) + ":signals:seq"
}

func (r *Redis) songIndexKey(tenant string) string {
	return fmt.Sprintf("%s:tenant:%s:songs", r.prefix, tenant)
}

func (r *Redis) songKey(tenant, id string) string {
	return fmt.Sprintf("%s:tenant:%s:song:%s", r.prefix, tenant, id)
}

// CreateScreen stores a new screen at version 1 unless the id is taken
func (r *Redis) CreateScreen(ctx context.Context, screen broadcast.Screen) (broadcast.Screen, error) {
	screen.Version = 1
	screen.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(screen)
	if err != nil {
		return broadcast.Screen{}, err
	}

	ok, err := r.client.SetNX(ctx, r.screenKey(screen.Tenant, screen.ID), data, 0).Result()
	if err != nil {
		return broadcast.Screen{}, fmt.Errorf("create screen %s: %w", screen.ID, err)
	}
	if !ok {
		return broadcast.Screen{}, fmt.Errorf("screen %s: %w", screen.ID, broadcast.ErrExists)
	}
	if err := r.client.SAdd(ctx, r.screenIndexKey(screen.Tenant), screen.ID).Err(); err != nil {
		return broadcast.Screen{}, fmt.Errorf("index screen %s: %w", screen.ID, err)
	}
	return screen, nil
}

// GetScreen reads one screen
func (r *Redis) GetScreen(ctx context.Context, tenant, id string) (broadcast.Screen, error) {
	data, err := r.client.Get(ctx, r.screenKey(tenant, id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return broadcast.Screen{}, fmt.Errorf("screen %s: %w", id, broadcast.ErrNotFound)
		}
		return broadcast.Screen{}, fmt.Errorf("get screen %s: %w", id, err)
	}
	var screen broadcast.Screen
	if err := json.Unmarshal(data, &screen); err != nil {
		return broadcast.Screen{}, fmt.Errorf("decode screen %s: %w", id, err)
	}
	return screen, nil
}

// ListScreens reads every indexed screen of a tenant ordered by name
func (r *Redis) ListScreens(ctx context.Context, tenant string) ([]broadcast.Screen, error) {
	ids, err := r.client.SMembers(ctx, r.screenIndexKey(tenant)).Result()
	if err != nil {
		return nil, fmt.Errorf("list screens: %w", err)
	}

	screens := make([]broadcast.Screen, 0, len(ids))
	for _, id := range ids {
		screen, err := r.GetScreen(ctx, tenant, id)
		if errors.Is(err, broadcast.ErrNotFound) {
			// Index entry left behind by a concurrent delete.
			continue
		}
		if err != nil {
			return nil, err
		}
		screens = append(screens, screen)
	}
	sortScreens(screens)
	return screens, nil
}

// DeleteScreen removes a screen and tells watchers it is gone
func (r *Redis) DeleteScreen(ctx context.Context, tenant, id string) error {
	n, err := r.client.Del(ctx, r.screenKey(tenant, id)).Result()
	if err != nil {
		return fmt.Errorf("delete screen %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("screen %s: %w", id, broadcast.ErrNotFound)
	}
	if err := r.client.SRem(ctx, r.screenIndexKey(tenant), id).Err(); err != nil {
		r.logger.Warn("unindex screen failed", zap.String("screen", id), zap.Error(err))
	}
	// A screen recreated under the same code starts a fresh signal log.
	if err := r.client.Del(ctx, r.signalStreamKey(tenant, id), r.signalSeqKey(tenant, id)).Err(); err != nil {
		r.logger.Warn("drop signal log failed", zap.String("screen", id), zap.Error(err))
	}
	// An empty payload means deleted.
	return r.client.Publish(ctx, r.changesChannel(tenant, id), "").Err()
}

// UpdateScreen runs fn inside a WATCH/MULTI transaction and publishes the
// new record to watchers
func (r *Redis) UpdateScreen(ctx context.Context, tenant, id string, expectedVersion int64, fn func(*broadcast.Screen) error) (broadcast.Screen, error) {
	key := r.screenKey(tenant, id)
	var updated broadcast.Screen

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return fmt.Errorf("screen %s: %w", id, broadcast.ErrNotFound)
			}
			return err
		}
		var current broadcast.Screen
		if err := json.Unmarshal(data, &current); err != nil {
			return fmt.Errorf("decode screen %s: %w", id, err)
		}
		if expectedVersion != 0 && current.Version != expectedVersion {
			return fmt.Errorf("screen %s at version %d, expected %d: %w",
				id, current.Version, expectedVersion, broadcast.ErrConflict)
		}

		next := current.Clone()
		if err := fn(&next); err != nil {
			return err
		}
		next.Tenant, next.ID = tenant, id
		next.Version = current.Version + 1
		next.UpdatedAt = time.Now().UTC()

		out, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			pipe.Publish(ctx, r.changesChannel(tenant, id), out)
			return nil
		})
		if err == nil {
			updated = next
		}
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			r.logger.Debug("screen update raced, retrying", zap.String("screen", id), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return broadcast.Screen{}, err
		}
		return updated, nil
	}
	return broadcast.Screen{}, fmt.Errorf("screen %s: too much contention: %w", id, broadcast.ErrConflict)
}

// WatchScreen subscribes to the screen's change channel before reading the
// current record so no write between the two is missed
func (r *Redis) WatchScreen(ctx context.Context, tenant, id string) (<-chan broadcast.Screen, error) {
	pubsub := r.client.Subscribe(ctx, r.changesChannel(tenant, id))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe screen %s: %w", id, err)
	}

	current, err := r.GetScreen(ctx, tenant, id)
	if err != nil {
		pubsub.Close()
		return nil, err
	}

	out := make(chan broadcast.Screen, 1)
	out <- current
	last := current.Version

	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if msg.Payload == "" {
					return
				}
				var screen broadcast.Screen
				if err := json.Unmarshal([]byte(msg.Payload), &screen); err != nil {
					r.logger.Warn("undecodable screen change", zap.String("screen", id), zap.Error(err))
					continue
				}
				// Publishes racing the initial read can arrive out of order.
				if screen.Version <= last {
					continue
				}
				last = screen.Version
				offerLatest(out, screen)
			}
		}
	}()
	return out, nil
}

// CreateSong stores a song, assigning an id when empty
func (r *Redis) CreateSong(ctx context.Context, song broadcast.Song) (broadcast.Song, error) {
	if song.ID == "" {
		song.ID = uuid.NewString()
	}
	song.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(song)
	if err != nil {
		return broadcast.Song{}, err
	}
	ok, err := r.client.SetNX(ctx, r.songKey(song.Tenant, song.ID), data, 0).Result()
	if err != nil {
		return broadcast.Song{}, fmt.Errorf("create song %s: %w", song.ID, err)
	}
	if !ok {
		return broadcast.Song{}, fmt.Errorf("song %s: %w", song.ID, broadcast.ErrExists)
	}
	if err := r.client.SAdd(ctx, r.songIndexKey(song.Tenant), song.ID).Err(); err != nil {
		return broadcast.Song{}, fmt.Errorf("index song %s: %w", song.ID, err)
	}
	return song, nil
}

// GetSong reads one song
func (r *Redis) GetSong(ctx context.Context, tenant, id string) (broadcast.Song, error) {
	data, err := r.client.Get(ctx, r.songKey(tenant, id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return broadcast.Song{}, fmt.Errorf("song %s: %w", id, broadcast.ErrNotFound)
		}
		return broadcast.Song{}, fmt.Errorf("get song %s: %w", id, err)
	}
	var song broadcast.Song
	if err := json.Unmarshal(data, &song); err != nil {
		return broadcast.Song{}, fmt.Errorf("decode song %s: %w", id, err)
	}
	return song, nil
}

// ListSongs reads every song of a tenant ordered by title
func (r *Redis) ListSongs(ctx context.Context, tenant string) ([]broadcast.Song, error) {
	ids, err := r.client.SMembers(ctx, r.songIndexKey(tenant)).Result()
	if err != nil {
		return nil, fmt.Errorf("list songs: %w", err)
	}
	songs := make([]broadcast.Song, 0, len(ids))
	for _, id := range ids {
		song, err := r.GetSong(ctx, tenant, id)
		if errors.Is(err, broadcast.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		songs = append(songs, song)
	}
	sortSongs(songs)
	return songs, nil
}

// UpdateSong replaces an existing song
func (r *Redis) UpdateSong(ctx context.Context, song broadcast.Song) (broadcast.Song, error) {
	song.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(song)
	if err != nil {
		return broadcast.Song{}, err
	}
	ok, err := r.client.SetXX(ctx, r.songKey(song.Tenant, song.ID), data, 0).Result()
	if err != nil {
		return broadcast.Song{}, fmt.Errorf("update song %s: %w", song.ID, err)
	}
	if !ok {
		return broadcast.Song{}, fmt.Errorf("song %s: %w", song.ID, broadcast.ErrNotFound)
	}
	return song, nil
}

// DeleteSong removes a song. Screens that reference it are left alone.
func (r *Redis) DeleteSong(ctx context.Context, tenant, id string) error {
	n, err := r.client.Del(ctx, r.songKey(tenant, id)).Result()
	if err != nil {
		return fmt.Errorf("delete song %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("song %s: %w", id, broadcast.ErrNotFound)
	}
	return r.client.SRem(ctx, r.songIndexKey(tenant), id).Err()
}

// AppendSignal adds an entry to the screen's signal stream. The sequence
// counter outlives ClearSignals so numbers never repeat.
func (r *Redis) AppendSignal(ctx context.Context, tenant, screenID string, entry broadcast.SignalEntry) (broadcast.SignalEntry, error) {
	seq, err := r.client.Incr(ctx, r.signalSeqKey(tenant, screenID)).Result()
	if err != nil {
		return broadcast.SignalEntry{}, fmt.Errorf("next signal seq: %w", err)
	}
	entry.Seq = seq
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.signalStreamKey(tenant, screenID),
		Values: map[string]interface{}{
			"seq":     strconv.FormatInt(entry.Seq, 10),
			"session": entry.Session,
			"sender":  entry.Sender,
			"kind":    string(entry.Kind),
			"payload": entry.Payload,
			"at":      entry.At.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return broadcast.SignalEntry{}, fmt.Errorf("append signal: %w", err)
	}
	return entry, nil
}

// Signals reads the stream and returns entries after since
func (r *Redis) Signals(ctx context.Context, tenant, screenID string, since int64) ([]broadcast.SignalEntry, error) {
	msgs, err := r.client.XRange(ctx, r.signalStreamKey(tenant, screenID), "-", "+").Result()
	if err != nil {
		if err == redis.Nil {
			return []broadcast.SignalEntry{}, nil
		}
		return nil, fmt.Errorf("read signals: %w", err)
	}

	out := make([]broadcast.SignalEntry, 0, len(msgs))
	for _, msg := range msgs {
		entry, err := decodeSignal(msg.Values)
		if err != nil {
			r.logger.Warn("skipping undecodable signal", zap.String("id", msg.ID), zap.Error(err))
			continue
		}
		if entry.Seq > since {
			out = append(out, entry)
		}
	}
	return out, nil
}

// ClearSignals deletes the stream
func (r *Redis) ClearSignals(ctx context.Context, tenant, screenID string) error {
	return r.client.Del(ctx, r.signalStreamKey(tenant, screenID)).Err()
}

func decodeSignal(values map[string]interface{}) (broadcast.SignalEntry, error) {
	str := func(k string) string {
		if v, ok := values[k].(string); ok {
			return v
		}
		return ""
	}
	seq, err := strconv.ParseInt(str("seq"), 10, 64)
	if err != nil {
		return broadcast.SignalEntry{}, fmt.Errorf("bad seq: %w", err)
	}
	at, _ := time.Parse(time.RFC3339Nano, str("at"))
	return broadcast.SignalEntry{
		Seq:     seq,
		Session: str("session"),
		Sender:  str("sender"),
		Kind:    broadcast.SignalKind(str("kind")),
		Payload: str("payload"),
		At:      at,
	}, nil
}
