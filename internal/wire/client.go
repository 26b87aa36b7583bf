package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"time"
)

// ErrNoImage is returned when SendPixels or CloseImage is called before
// OpenImage has completed the echo-id handshake. Fatal to the client.
var ErrNoImage = errors.New("wire: image id is not valid, open an image first")

// Client is the renderer-side half of the protocol. One Client sends one
// image: OpenImage, any number of SendPixels, CloseImage.
//
// The receiving service uses it only for the QUIT self-connect and for
// tests; the production sender is the renderer's display driver.
type Client struct {
	conn    net.Conn
	imageID int32
}

// Dial connects a new client to host:port.
func Dial(host string, port int) (*Client, error) {
	conn, err := net.DialTimeout("tcp4", fmt.Sprintf("%s:%d", host, port), 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("wire: dial %s:%d: %w", host, port, err)
	}
	return &Client{conn: conn, imageID: -1}, nil
}

// OpenImage sends the session header and completes the echo-id handshake.
func (c *Client) OpenImage(h *Header) error {
	if err := binary.Write(c.conn, binary.LittleEndian, KindOpen); err != nil {
		return fmt.Errorf("wire: send open: %w", err)
	}
	if err := binary.Read(c.conn, binary.LittleEndian, &c.imageID); err != nil {
		c.imageID = -1
		return fmt.Errorf("wire: read echo id: %w", err)
	}
	for _, f := range []any{
		h.SessionID, h.Xres, h.Yres, h.RegionArea,
		h.Version, h.Frame, h.CamFov, h.CamMatrix[:], h.Samples[:],
	} {
		if err := binary.Write(c.conn, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("wire: send header: %w", err)
		}
	}
	return nil
}

// SendPixels streams one bucket. The AOV name is sent as raw bytes with a
// trailing NUL, prefixed by its u64 length.
func (c *Client) SendPixels(p *Pixels) error {
	if c.imageID < 0 {
		return ErrNoImage
	}
	for _, f := range []any{
		KindPixels, c.imageID,
		p.Xres, p.Yres,
		p.BucketXo, p.BucketYo, p.BucketW, p.BucketH,
		p.Spp, p.RAM, p.Time,
	} {
		if err := binary.Write(c.conn, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("wire: send bucket header: %w", err)
		}
	}

	name := append([]byte(p.AOVName), 0)
	if err := binary.Write(c.conn, binary.LittleEndian, uint64(len(name))); err != nil {
		return fmt.Errorf("wire: send aov name length: %w", err)
	}
	if _, err := c.conn.Write(name); err != nil {
		return fmt.Errorf("wire: send aov name: %w", err)
	}

	buf := make([]byte, 4*len(p.Data))
	for i, v := range p.Data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("wire: send pixel block: %w", err)
	}
	return nil
}

// CloseImage tells the server the image is complete and disconnects.
func (c *Client) CloseImage() error {
	if c.imageID < 0 {
		return ErrNoImage
	}
	defer c.conn.Close()
	for _, f := range []any{KindClose, c.imageID} {
		if err := binary.Write(c.conn, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("wire: send close: %w", err)
		}
	}
	return nil
}

// Close drops the connection without the close handshake.
func (c *Client) Close() error { return c.conn.Close() }

// SendQuit self-connects to host:port and delivers the QUIT sentinel.
// This is the only supported way to unblock a listener from the same
// process.
func SendQuit(host string, port int) error {
	conn, err := net.DialTimeout("tcp4", fmt.Sprintf("%s:%d", host, port), 5*time.Second)
	if err != nil {
		return fmt.Errorf("wire: quit dial: %w", err)
	}
	defer conn.Close()
	if err := binary.Write(conn, binary.LittleEndian, KindQuit); err != nil {
		return fmt.Errorf("wire: send quit: %w", err)
	}
	return nil
}
