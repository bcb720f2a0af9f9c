// Package testdata holds published key wrap test vectors.
package testdata

// KeyWrapVector is one RFC 3394 section 4 example.
type KeyWrapVector struct {
	Name    string
	KEK     string // Hex
	Key     string // Hex
	Wrapped string // Hex
}

// KeyWrapVectors are the RFC 3394 examples, all at 6 iterations with the
// big-endian counter.
var KeyWrapVectors = []KeyWrapVector{
	{
		Name:    "128-bit key under 128-bit KEK",
		KEK:     "000102030405060708090A0B0C0D0E0F",
		Key:     "00112233445566778899AABBCCDDEEFF",
		Wrapped: "1FA68B0A8112B447AEF34BD8FB5A7B829D3E862371D2CFE5",
	},
	{
		Name:    "128-bit key under 192-bit KEK",
		KEK:     "000102030405060708090A0B0C0D0E0F1011121314151617",
		Key:     "00112233445566778899AABBCCDDEEFF",
		Wrapped: "96778B25AE6CA435F92B5B97C050AED2468AB8A17AD84E5D",
	},
	{
		Name:    "128-bit key under 256-bit KEK",
		KEK:     "000102030405060708090A0B0C0D0E0F101112131415161718191A1B1C1D1E1F",
		Key:     "00112233445566778899AABBCCDDEEFF",
		Wrapped: "64E8C3F9CE0F5BA263E9777905818A2A93C8191E7D6E8AE7",
	},
	{
		Name:    "192-bit key under 192-bit KEK",
		KEK:     "000102030405060708090A0B0C0D0E0F1011121314151617",
		Key:     "00112233445566778899AABBCCDDEEFF0001020304050607",
		Wrapped: "031D33264E15D33268F24EC260743EDCE1C6C7DDEE725A936BA814915C6762D2",
	},
	{
		Name:    "192-bit key under 256-bit KEK",
		KEK:     "000102030405060708090A0B0C0D0E0F101112131415161718191A1B1C1D1E1F",
		Key:     "00112233445566778899AABBCCDDEEFF0001020304050607",
		Wrapped: "A8F9BC1612C68B3FF6E6F4FBE30E71E4769C8B80A32CB8958CD5D17D6B254DA1",
	},
	{
		Name:    "256-bit key under 256-bit KEK",
		KEK:     "000102030405060708090A0B0C0D0E0F101112131415161718191A1B1C1D1E1F",
		Key:     "00112233445566778899AABBCCDDEEFF000102030405060708090A0B0C0D0E0F",
		Wrapped: "28C9F404C4B810F4CBCCB35CFB87F8263F5786E2D80ED326CBC7F0E71A99F43BFB988B9B7A02DD21",
	},
}
