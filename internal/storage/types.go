package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID           string `msgpack:"id"`
	Email        string `msgpack:"email"`
	FullName     string `msgpack:"fullName"`
	Bio          string `msgpack:"bio"`
	ProfilePic   string `msgpack:"profilePic"`
	CreatedAt    int64  `msgpack:"createdAt"`
	PasswordHash string `msgpack:"passwordHash"`
	TokenGen     int64  `msgpack:"tokenGen"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBMessage struct {
	ID         string `msgpack:"id"`
	Seq        uint64 `msgpack:"seq"`
	SenderID   string `msgpack:"senderId"`
	ReceiverID string `msgpack:"receiverId"`
	Text       string `msgpack:"text"`
	Image      string `msgpack:"image"`
	HTML       string `msgpack:"html"`
	CreatedAt  int64  `msgpack:"createdAt"`
	Seen       bool   `msgpack:"seen"`
}

func (m *DBMessage) Key() []byte {
	return []byte(m.ID)
}

// SeqKey is the key of the message in its conversation index.
func (m *DBMessage) SeqKey() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, m.Seq)
	return key
}

// UnseenKey is the key of the message in the receiver's unseen index.
func (m *DBMessage) UnseenKey() []byte {
	return unseenKey(m.SenderID, m.ID)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBPushSubscription struct {
	UserID   string `msgpack:"userId"`
	Endpoint string `msgpack:"endpoint"`
	P256dh   string `msgpack:"p256dh"`
	Auth     string `msgpack:"auth"`
}

func (s *DBPushSubscription) Key() []byte {
	return []byte(s.Endpoint)
}

func (s *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(s))
}

func (s *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(s))
}

const unseenSep = 0

func unseenKey(senderID, messageID string) []byte {
	key := make([]byte, 0, len(senderID)+1+len(messageID))
	key = append(key, senderID...)
	key = append(key, unseenSep)
	return append(key, messageID...)
}

// ImageMetadata describes an uploaded image. The bytes live in the file
// store under Hash; ID is what URLs refer to.
type ImageMetadata struct {
	ID        string `msgpack:"id"`
	Hash      string `msgpack:"hash"`
	MimeType  string `msgpack:"mimeType"`
	Size      int64  `msgpack:"size"`
	CreatedAt int64  `msgpack:"createdAt"`
	UserID    string `msgpack:"userId"`
}

func (m *ImageMetadata) Key() []byte {
	return []byte(m.ID)
}

func (m *ImageMetadata) MarshalBinary() (data []byte, err error) {
	type alias ImageMetadata
	return msgpack.Marshal((*alias)(m))
}

func (m *ImageMetadata) UnmarshalBinary(data []byte) error {
	type alias ImageMetadata
	return msgpack.Unmarshal(data, (*alias)(m))
}
