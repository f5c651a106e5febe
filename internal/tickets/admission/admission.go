// Package admission issues the admission code printed on a sold ticket and
// renders it as an encrypted QR image.
package admission

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/skip2/go-qrcode"
)

var ErrInvalidPayload = errors.New("invalid admission payload")

// Issuer hands out unique admission codes. Codes are snowflake ids, unique
// across service instances as long as each instance has its own node id.
type Issuer struct {
	node *snowflake.Node
}

func NewIssuer(nodeID int64) (*Issuer, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node %d: %w", nodeID, err)
	}
	return &Issuer{node: node}, nil
}

func (i *Issuer) Issue() (string, error) {
	return "QR" + i.node.Generate().Base58(), nil
}

// Payload is what the gate scanner reads from the QR code.
type Payload struct {
	QRTicketID string    `json:"qr_ticket_id"`
	TicketID   int64     `json:"ticket_id"`
	UserID     int64     `json:"user_id"`
	Seat       string    `json:"seat"`
	Area       string    `json:"area"`
	EventDate  time.Time `json:"event_date"`
}

type QRGenerator struct {
	secret []byte
}

func NewQRGenerator(secret string) *QRGenerator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &QRGenerator{secret: hashed[:]}
}

// GenerateEncryptedQR returns a PNG of the AES encrypted payload.
func (q *QRGenerator) GenerateEncryptedQR(p Payload) ([]byte, error) {
	token, err := q.Seal(p)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(token, qrcode.Medium, 256)
}

// Seal encrypts the payload into the URL-safe token carried by the QR code.
func (q *QRGenerator) Seal(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(q.secret)
	if err != nil {
		return "", err
	}
	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}
	cipher.NewCFBEncrypter(block, iv).XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

// Open reverses Seal. A token sealed with another secret fails to decode.
func (q *QRGenerator) Open(token string) (Payload, error) {
	var p Payload
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil || len(raw) < aes.BlockSize {
		return p, ErrInvalidPayload
	}
	block, err := aes.NewCipher(q.secret)
	if err != nil {
		return p, err
	}
	data := raw[aes.BlockSize:]
	cipher.NewCFBDecrypter(block, raw[:aes.BlockSize]).XORKeyStream(data, data)
	if err := json.Unmarshal(data, &p); err != nil {
		return p, ErrInvalidPayload
	}
	return p, nil
}
