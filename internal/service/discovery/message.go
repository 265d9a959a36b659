package discovery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"query_gateway/internal/model"

	"github.com/ethereum/go-ethereum/crypto"
	"google.golang.org/protobuf/encoding/protowire"
)

var errBadMessage = errors.New("bad gossip message")

// signingBytes is a deterministic encoding of everything an origin vouches
// for. Hops is excluded so relays do not invalidate the signature.
func signingBytes(m *model.AnnouncementMessage) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, string(m.Type))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, m.Origin)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, m.DeploymentID)
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, m.Endpoint)
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Timestamp))
	return b
}

func digest(m *model.AnnouncementMessage) []byte {
	return crypto.Keccak256(signingBytes(m))
}

type signer struct {
	key []byte
}

func (s signer) mac(m *model.AnnouncementMessage) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write(signingBytes(m))
	return h.Sum(nil)
}

func (s signer) sign(m *model.AnnouncementMessage) {
	m.Signature = hex.EncodeToString(s.mac(m))
}

func (s signer) verify(m *model.AnnouncementMessage) bool {
	got, err := hex.DecodeString(m.Signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, s.mac(m))
}

func encodeMessage(m *model.AnnouncementMessage) ([]byte, error) {
	return json.Marshal(m)
}

func decodeMessage(data []byte) (*model.AnnouncementMessage, error) {
	var m model.AnnouncementMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadMessage, err)
	}
	if m.Origin == "" || m.Timestamp <= 0 || m.Hops < 0 {
		return nil, fmt.Errorf("%w: missing origin or timestamp", errBadMessage)
	}
	switch m.Type {
	case model.MessageHeartbeat:
	case model.MessageAnnounce:
		if m.DeploymentID == "" || m.Endpoint == "" {
			return nil, fmt.Errorf("%w: announce without deployment or endpoint", errBadMessage)
		}
	case model.MessageWithdraw:
		if m.DeploymentID == "" {
			return nil, fmt.Errorf("%w: withdraw without deployment", errBadMessage)
		}
	default:
		return nil, fmt.Errorf("%w: type %q", errBadMessage, m.Type)
	}
	return &m, nil
}
