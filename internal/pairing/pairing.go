package pairing

import (
	"errors"
	"strings"

	"github.com/speps/go-hashids/v2"
)

const MinLength = 6

var ErrInvalidCode = errors.New("invalid pairing code")

// Codec turns pairing ids into the short codes typed into a device.
type Codec struct {
	h *hashids.HashID
}

func NewCodec(salt string) (*Codec, error) {
	hd := hashids.NewData()
	hd.Salt = salt
	hd.MinLength = MinLength
	hd.Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	h, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, err
	}
	return &Codec{h: h}, nil
}

func (c *Codec) Encode(id int64) (string, error) {
	return c.h.EncodeInt64([]int64{id})
}

// Decode accepts codes in any letter case.
func (c *Codec) Decode(code string) (int64, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return 0, ErrInvalidCode
	}
	ids, err := c.h.DecodeInt64WithError(code)
	if err != nil || len(ids) != 1 {
		return 0, ErrInvalidCode
	}
	return ids[0], nil
}
