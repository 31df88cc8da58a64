package notify

import (
	"context"

	"beaconbond/pkg/models"
	"beaconbond/pkg/store"
)

// MessageSub is one live message-change subscription.
type MessageSub interface {
	Changes() <-chan models.Change
	Cancel()
}

// ConvSub streams newly created conversation ids.
type ConvSub interface {
	Conversations() <-chan string
	Cancel()
}

// Source is the backing conversation/message store as the reconciler sees
// it: live conversation and message feeds plus the read-mark write.
type Source interface {
	// Subscribe returns the conversation's current snapshot in insertion
	// order plus a live change subscription; snapshot and stream are
	// atomic with respect to concurrent writes.
	Subscribe(convID string, buffer int) (MessageSub, []models.Message, error)
	// SubscribeConversations returns the current conversation-id set plus
	// a stream of newly created ids.
	SubscribeConversations(buffer int) (ConvSub, []string, error)
	// MarkMessageRead durably persists that reader has read the message.
	MarkMessageRead(convID, msgID, reader string) error
}

// NameResolver resolves a display name for an identity, best-effort.
type NameResolver interface {
	DisplayName(ctx context.Context, id string) (string, error)
}

// StoreSource adapts the pkg/store live feed to the Source interface.
type StoreSource struct{}

type storeMessageSub struct{ sub *store.Subscription }

func (s storeMessageSub) Changes() <-chan models.Change { return s.sub.C }
func (s storeMessageSub) Cancel()                       { s.sub.Cancel() }

type storeConvSub struct{ sub *store.ConvSubscription }

func (s storeConvSub) Conversations() <-chan string { return s.sub.C }
func (s storeConvSub) Cancel()                      { s.sub.Cancel() }

func (StoreSource) Subscribe(convID string, buffer int) (MessageSub, []models.Message, error) {
	sub, snapshot, err := store.Subscribe(convID, buffer)
	if err != nil {
		return nil, nil, err
	}
	return storeMessageSub{sub: sub}, snapshot, nil
}

func (StoreSource) SubscribeConversations(buffer int) (ConvSub, []string, error) {
	sub, ids, err := store.SubscribeConversations(buffer)
	if err != nil {
		return nil, nil, err
	}
	return storeConvSub{sub: sub}, ids, nil
}

func (StoreSource) MarkMessageRead(convID, msgID, reader string) error {
	return store.MarkMessageRead(convID, msgID, reader)
}
