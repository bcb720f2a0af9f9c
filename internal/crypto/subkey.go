package crypto

import (
	"crypto/aes"
	"fmt"
)

// SubkeyType discriminates purpose-specific keys derived from a master key.
type SubkeyType byte

const (
	SubkeyHMAC      SubkeyType = 0
	SubkeyValidator SubkeyType = 1
	SubkeyHeaders   SubkeyType = 2
	SubkeyData      SubkeyType = 3
)

func (t SubkeyType) String() string {
	switch t {
	case SubkeyHMAC:
		return "hmac"
	case SubkeyValidator:
		return "validator"
	case SubkeyHeaders:
		return "headers"
	case SubkeyData:
		return "data"
	default:
		return fmt.Sprintf("subkey(%d)", byte(t))
	}
}

// DeriveSubkey encrypts a single block holding the discriminator byte under master.
func DeriveSubkey(master AesKey, t SubkeyType) (AesKey, error) {
	block, err := aes.NewCipher(master.b)
	if err != nil {
		return AesKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	var in, out [BlockSize]byte
	in[0] = byte(t)
	block.Encrypt(out[:], in[:])

	return AesKey{b: out[:]}, nil
}

// Subkeys holds the derived keys of one document.
type Subkeys struct {
	HMAC      AesKey
	Validator AesKey
	Headers   AesKey
	Data      AesKey
}

// DeriveSubkeys derives every subkey of master once.
func DeriveSubkeys(master AesKey) (Subkeys, error) {
	var sk Subkeys
	var err error
	if sk.HMAC, err = DeriveSubkey(master, SubkeyHMAC); err != nil {
		return Subkeys{}, err
	}
	if sk.Validator, err = DeriveSubkey(master, SubkeyValidator); err != nil {
		return Subkeys{}, err
	}
	if sk.Headers, err = DeriveSubkey(master, SubkeyHeaders); err != nil {
		return Subkeys{}, err
	}
	if sk.Data, err = DeriveSubkey(master, SubkeyData); err != nil {
		return Subkeys{}, err
	}
	return sk, nil
}
