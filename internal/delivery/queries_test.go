package delivery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/apperr"
)

func TestOpenChat_SameChatInEitherOrder(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)

	c1, err := f.engine.OpenChat(ctx, f.alice.Hex(), f.bob.Hex())
	req.NoError(err)
	c2, err := f.engine.OpenChat(ctx, f.bob.Hex(), f.alice.Hex())
	req.NoError(err)
	req.Equal(f.chat.ID, c1.ID)
	req.Equal(c1.ID, c2.ID)

	_, err = f.engine.OpenChat(ctx, f.alice.Hex(), "bad")
	req.True(apperr.Is(err, apperr.InvalidArgument))
}

func TestHistoryAndCountUnseen(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	chatID := f.chat.ID.Hex()

	m1, err := f.engine.Send(ctx, f.alice.Hex(), chatID, "first")
	req.NoError(err)
	_, err = f.engine.Send(ctx, f.alice.Hex(), chatID, "second")
	req.NoError(err)
	_, err = f.engine.Send(ctx, f.bob.Hex(), chatID, "reply")
	req.NoError(err)

	history, err := f.engine.History(ctx, f.bob.Hex(), chatID)
	req.NoError(err)
	req.Len(history, 3)
	req.Equal("first", history[0].Text)
	req.Equal("reply", history[2].Text)

	n, err := f.engine.CountUnseen(ctx, f.bob.Hex(), chatID)
	req.NoError(err)
	req.EqualValues(2, n)

	_, err = f.engine.MarkSeen(ctx, f.bob.Hex(), chatID, []string{m1.ID.Hex()})
	req.NoError(err)
	n, err = f.engine.CountUnseen(ctx, f.bob.Hex(), chatID)
	req.NoError(err)
	req.EqualValues(1, n)

	n, err = f.engine.CountUnseen(ctx, f.alice.Hex(), chatID)
	req.NoError(err)
	req.EqualValues(1, n)

	stranger := bson.NewObjectID().Hex()
	_, err = f.engine.History(ctx, stranger, chatID)
	req.True(apperr.Is(err, apperr.Unauthorized))
	_, err = f.engine.CountUnseen(ctx, f.bob.Hex(), bson.NewObjectID().Hex())
	req.True(apperr.Is(err, apperr.NotFound))

	chat, err := f.engine.Chat(ctx, f.alice.Hex(), chatID)
	req.NoError(err)
	req.Equal(f.chat.ID, chat.ID)
}
