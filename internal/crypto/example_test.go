package crypto_test

import (
	"bytes"
	"fmt"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
)

func ExampleNewKeyWrap() {
	kek := crypto.NewPassphrase("correct horse").Key()

	kw, err := crypto.NewKeyWrap(kek, crypto.KeyWrapSalt{}, crypto.MinKeyWrapIterations, crypto.KeyWrapAxCrypt)
	if err != nil {
		panic(err)
	}

	master := bytes.Repeat([]byte{0x42}, 16)
	wrapped, err := kw.Wrap(master)
	if err != nil {
		panic(err)
	}

	unwrapped, err := kw.Unwrap(wrapped)
	if err != nil {
		panic(err)
	}

	fmt.Printf("Wrapped length: %d bytes\n", len(wrapped))
	fmt.Println("Round trip:", bytes.Equal(master, unwrapped))
	// Output:
	// Wrapped length: 24 bytes
	// Round trip: true
}

func ExampleDeriveSubkeys() {
	master := crypto.MustAesKey(bytes.Repeat([]byte{0x01}, 16))

	subkeys, err := crypto.DeriveSubkeys(master)
	if err != nil {
		panic(err)
	}

	fmt.Println("Data key bits:", subkeys.Data.Len()*8)
	// Output: Data key bits: 128
}
