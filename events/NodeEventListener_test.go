package events

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/types"
	"github.com/stretchr/testify/assert"
)

func Test_Log_Listener_Writes_Events(t *testing.T) {
	var buf bytes.Buffer
	l := LogListener{Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	id := types.NewRandomID()
	l.OnPeerAdded(PeerEvent{ID: id, Addr: "10.0.0.1:4001", EventTime: time.Now()})
	l.OnPeerRemoved(PeerEvent{ID: id, Addr: "10.0.0.1:4001"})
	l.OnValueStored(ValueStoredEvent{Key: types.HashKey("k"), Size: 12, PublisherID: id})
	l.OnValueRejected(ValueStoredEvent{Key: types.HashKey("k"), PublisherID: id}, errors.New("forged"))

	out := buf.String()
	assert.Contains(t, out, "peer added")
	assert.Contains(t, out, "peer removed")
	assert.Contains(t, out, "replica stored")
	assert.Contains(t, out, "forged")
	assert.Contains(t, out, id.String())
}
