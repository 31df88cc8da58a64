package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"beaconbond/pkg/logger"
	"beaconbond/pkg/models"
)

var db *pebble.DB
var dbPath string

// seq is a small counter to reduce key collisions when multiple messages
// share the same nanosecond timestamp.
var seq uint64

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present and drops all feed
// subscribers.
func Close() error {
	if db == nil {
		return nil
	}
	closeFeed()
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// MsgKey builds the conversation-scoped message key for a creation
// timestamp and sequence.
func MsgKey(convID string, ts int64, s uint64) (string, error) {
	if convID == "" {
		return "", fmt.Errorf("empty conversation id")
	}
	return fmt.Sprintf("conv:%s:msg:%020d-%06d", convID, ts, s), nil
}

func versionKey(msgID string, ts int64, s uint64) string {
	return fmt.Sprintf("version:msg:%s:%020d-%06d", msgID, ts, s)
}

// SaveMessage appends a message to a conversation. The creation timestamp
// and key position are assigned here; the conversation is created
// implicitly when this is its first message. Subscribers of the change
// feed observe the write as an Added change.
func SaveMessage(msg models.Message) (models.Message, error) {
	if db == nil {
		return msg, fmt.Errorf("pebble not opened; call store.Open first")
	}
	if msg.Conversation == "" {
		return msg, fmt.Errorf("message missing conversation id")
	}
	if msg.ID == "" {
		return msg, fmt.Errorf("message missing id")
	}
	ts := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&seq, 1)
	msg.TS = ts

	key, err := MsgKey(msg.Conversation, ts, s)
	if err != nil {
		return msg, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return msg, fmt.Errorf("failed to marshal message: %w", err)
	}

	batch := db.NewBatch()
	_ = batch.Set([]byte(key), data, nil)
	// index the stable location and latest version by message id
	_ = batch.Set([]byte("msgkey:"+msg.ID), []byte(key), nil)
	_ = batch.Set([]byte("latest:msg:"+msg.ID), data, nil)
	_ = batch.Set([]byte(versionKey(msg.ID, ts, s)), data, nil)

	// ensure conversation metadata exists and bump its activity time
	created, cerr := touchConversation(batch, msg.Conversation, ts)
	if cerr != nil {
		_ = batch.Close()
		return msg, cerr
	}
	if err := db.Apply(batch, pebble.Sync); err != nil {
		logger.Error("save_message_failed", "conversation", msg.Conversation, "key", key, "error", err)
		return msg, err
	}
	msgSaves.Inc()
	logger.Debug("message_saved", "conversation", msg.Conversation, "msg_id", msg.ID)

	if created {
		publishConversation(msg.Conversation)
	}
	publish(models.Change{Kind: models.ChangeAdded, Conversation: msg.Conversation, ID: msg.ID, Payload: data, TS: ts})
	return msg, nil
}

// touchConversation writes/updates the conv meta entry inside batch and
// reports whether the conversation was newly created.
func touchConversation(batch *pebble.Batch, convID string, ts int64) (bool, error) {
	metaKey := []byte("conv:" + convID + ":meta")
	v, closer, err := db.Get(metaKey)
	if err == pebble.ErrNotFound {
		c := models.Conversation{ID: convID, CreatedTS: ts, UpdatedTS: ts}
		b, merr := json.Marshal(c)
		if merr != nil {
			return false, merr
		}
		return true, batch.Set(metaKey, b, nil)
	}
	if err != nil {
		return false, err
	}
	var c models.Conversation
	uerr := json.Unmarshal(v, &c)
	_ = closer.Close()
	if uerr != nil {
		return false, uerr
	}
	c.UpdatedTS = ts
	b, merr := json.Marshal(c)
	if merr != nil {
		return false, merr
	}
	return false, batch.Set(metaKey, b, nil)
}

// MarkMessageRead persists the read mark for a message: it sets the
// boolean flag and adds the reader to the read-by set, appending a new
// version while overwriting the message's stable key so conversation
// order is preserved. Subscribers observe an Updated change.
func MarkMessageRead(convID, msgID, reader string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	msg, key, err := getMessageWithKey(msgID)
	if err != nil {
		return err
	}
	if msg.Conversation != convID {
		return fmt.Errorf("message %s does not belong to conversation %s", msgID, convID)
	}
	if msg.IsRead && containsStr(msg.ReadBy, reader) {
		// this reader is already recorded under both representations
		return nil
	}
	msg.IsRead = true
	if !containsStr(msg.ReadBy, reader) {
		msg.ReadBy = append(msg.ReadBy, reader)
	}
	data, merr := json.Marshal(msg)
	if merr != nil {
		return fmt.Errorf("failed to marshal message: %w", merr)
	}
	s := atomic.AddUint64(&seq, 1)
	now := time.Now().UTC().UnixNano()

	batch := db.NewBatch()
	_ = batch.Set([]byte(key), data, nil)
	_ = batch.Set([]byte("latest:msg:"+msgID), data, nil)
	_ = batch.Set([]byte(versionKey(msgID, now, s)), data, nil)
	if err := db.Apply(batch, pebble.Sync); err != nil {
		logger.Error("mark_read_failed", "conversation", convID, "msg_id", msgID, "error", err)
		return err
	}
	readMarks.Inc()
	logger.Debug("message_marked_read", "conversation", convID, "msg_id", msgID, "reader", reader)
	publish(models.Change{Kind: models.ChangeUpdated, Conversation: convID, ID: msgID, Payload: data, TS: msg.TS})
	return nil
}

// DeleteMessage removes a message from its conversation, leaving a
// tombstone version behind. Subscribers observe a Removed change.
func DeleteMessage(convID, msgID string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	msg, key, err := getMessageWithKey(msgID)
	if err != nil {
		return err
	}
	if msg.Conversation != convID {
		return fmt.Errorf("message %s does not belong to conversation %s", msgID, convID)
	}
	msg.Deleted = true
	data, merr := json.Marshal(msg)
	if merr != nil {
		return merr
	}
	s := atomic.AddUint64(&seq, 1)
	now := time.Now().UTC().UnixNano()

	batch := db.NewBatch()
	_ = batch.Delete([]byte(key), nil)
	_ = batch.Delete([]byte("msgkey:"+msgID), nil)
	_ = batch.Delete([]byte("latest:msg:"+msgID), nil)
	_ = batch.Set([]byte(versionKey(msgID, now, s)), data, nil)
	if err := db.Apply(batch, pebble.Sync); err != nil {
		logger.Error("delete_message_failed", "conversation", convID, "msg_id", msgID, "error", err)
		return err
	}
	logger.Debug("message_deleted", "conversation", convID, "msg_id", msgID)
	publish(models.Change{Kind: models.ChangeRemoved, Conversation: convID, ID: msgID, Payload: data, TS: msg.TS})
	return nil
}

func getMessageWithKey(msgID string) (models.Message, string, error) {
	var msg models.Message
	kv, closer, err := db.Get([]byte("msgkey:" + msgID))
	if err != nil {
		return msg, "", fmt.Errorf("message %s not found: %w", msgID, err)
	}
	key := string(kv)
	_ = closer.Close()
	v, closer2, err := db.Get([]byte(key))
	if err != nil {
		return msg, "", fmt.Errorf("message %s missing at %s: %w", msgID, key, err)
	}
	uerr := json.Unmarshal(v, &msg)
	_ = closer2.Close()
	if uerr != nil {
		return msg, "", fmt.Errorf("invalid message JSON: %w", uerr)
	}
	return msg, key, nil
}

// GetMessage returns the latest version of a message by id.
func GetMessage(msgID string) (models.Message, error) {
	var msg models.Message
	if db == nil {
		return msg, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get([]byte("latest:msg:" + msgID))
	if err != nil {
		return msg, err
	}
	uerr := json.Unmarshal(v, &msg)
	_ = closer.Close()
	return msg, uerr
}

// ListMessages returns all messages for a conversation in insertion order.
func ListMessages(convID string, limit ...int) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("conv:" + convID + ":msg:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	max := -1
	if len(limit) > 0 {
		max = limit[0]
	}
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Error("listmessages_invalid_json", "conversation", convID, "error", err)
			return nil, fmt.Errorf("invalid message JSON: %w", err)
		}
		out = append(out, m)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, iter.Error()
}

// ListMessageVersions returns all stored versions for a message ID in
// chronological order.
func ListMessageVersions(msgID string) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("version:msg:" + msgID + ":")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("invalid message JSON: %w", err)
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

// GetConversation returns the stored conversation metadata.
func GetConversation(convID string) (models.Conversation, error) {
	var c models.Conversation
	if db == nil {
		return c, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get([]byte("conv:" + convID + ":meta"))
	if err != nil {
		return c, err
	}
	uerr := json.Unmarshal(v, &c)
	_ = closer.Close()
	return c, uerr
}

// ListConversations returns all known conversation ids, sorted.
func ListConversations() ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("conv:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		if !bytes.HasSuffix(k, []byte(":meta")) {
			continue
		}
		id := string(k[len(prefix) : len(k)-len(":meta")])
		out = append(out, id)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// SaveProfile stores a user profile under its identity id.
func SaveProfile(p models.Profile) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if p.ID == "" {
		return fmt.Errorf("profile missing id")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return db.Set([]byte("profile:"+p.ID), b, pebble.Sync)
}

// GetProfile returns the stored profile for an identity id.
func GetProfile(id string) (models.Profile, error) {
	var p models.Profile
	if db == nil {
		return p, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get([]byte("profile:" + id))
	if err != nil {
		return p, err
	}
	uerr := json.Unmarshal(v, &p)
	_ = closer.Close()
	return p, uerr
}

// DBSet is a low-level escape hatch used by tests to seed raw entries.
func DBSet(key, val []byte) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.Set(key, val, pebble.Sync)
}

func containsStr(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
