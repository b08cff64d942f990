package proxy

import (
	"encoding/json"
	"net"
	"time"

	"craftgate/pkg/mcproto"
)

const disconnectWriteTimeout = 5 * time.Second

// chatText wraps plain text as a Minecraft chat component.
func chatText(text string) ([]byte, error) {
	return json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
}

// WriteDisconnect sends a login Disconnect packet with text as the reason.
// The whole packet goes out in a single write.
func WriteDisconnect(conn net.Conn, text string) error {
	reason, err := chatText(text)
	if err != nil {
		return err
	}
	buf := make([]byte, mcproto.DisconnectPacketSize(len(reason)))
	n, err := mcproto.EncodeDisconnect(buf, reason)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(disconnectWriteTimeout))
	_, err = conn.Write(buf[:n])
	return err
}
