package core

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// letterAlphabet is the output alphabet for letter positions, lower case first
const letterAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

type streamClass string

const (
	digitStream  streamClass = "digit"
	letterStream streamClass = "letter"
)

// Obfuscator rewrites text so that its length and per-character class are
// preserved while its content becomes opaque: ASCII digits stay digits, ASCII
// letters stay letters, every other byte is copied verbatim.
//
// The digit and letter streams are sealed independently with an AEAD and the
// ciphertext bytes are folded into the stream's alphabet. The output is not
// decryptable. With a random nonce (the default) repeated calls on the same
// input give different results; Deterministic derives the nonce from the key
// and the stream so equal inputs map to equal outputs.
//
// The zero value uses AES-GCM with random nonces. An Obfuscator holds no key
// and no mutable state and is safe for concurrent use.
type Obfuscator struct {
	Cipher        CipherSuite
	Deterministic bool
}

// Obfuscate runs the default Obfuscator over text.
func Obfuscate(text string, key []byte) (string, error) {
	return Obfuscator{}.Operate(text, key)
}

// Validate checks that key can drive the configured cipher.
func (o Obfuscator) Validate(key []byte) error {
	return validateKey(o.suite(), key)
}

// Operate obfuscates text under key. The key is borrowed for the duration of
// the call only.
func (o Obfuscator) Operate(text string, key []byte) (string, error) {
	if err := o.Validate(key); err != nil {
		return "", err
	}

	digits, letters := splitStreams(text)

	mappedDigits, err := o.mapStream(digitStream, digits, key)
	if err != nil {
		return "", err
	}
	mappedLetters, err := o.mapStream(letterStream, letters, key)
	if err != nil {
		return "", err
	}

	return reinterleave(text, mappedDigits, mappedLetters), nil
}

func (o Obfuscator) suite() CipherSuite {
	if o.Cipher == "" {
		return CipherAESGCM
	}
	return o.Cipher
}

// mapStream seals one character stream and folds the ciphertext into the
// stream's alphabet, truncated to the stream length.
func (o Obfuscator) mapStream(class streamClass, stream []byte, key []byte) ([]byte, error) {
	if len(stream) == 0 {
		return nil, nil
	}

	var sealed []byte
	err := withAEAD(o.suite(), key, func(aead cipher.AEAD, scopedKey []byte) error {
		nonce, err := o.nonce(aead.NonceSize(), class, stream, scopedKey)
		if err != nil {
			return err
		}
		sealed = aead.Seal(nil, nonce, stream, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(sealed) < len(stream) {
		return nil, &MappingOverflowError{
			Stream:     string(class),
			Plaintext:  len(stream),
			Ciphertext: len(sealed),
		}
	}

	out := make([]byte, len(stream))
	for i := range out {
		b := sealed[i]
		if class == digitStream {
			out[i] = '0' + b%10
		} else {
			out[i] = letterAlphabet[int(b)%len(letterAlphabet)]
		}
	}
	return out, nil
}

// nonce returns a fresh random nonce, or in deterministic mode one derived
// with HKDF-SHA256 from the key, the stream class and the stream itself.
func (o Obfuscator) nonce(size int, class streamClass, stream []byte, key []byte) ([]byte, error) {
	nonce := make([]byte, size)

	var src io.Reader = rand.Reader
	if o.Deterministic {
		info := make([]byte, 0, len(class)+1+len(stream))
		info = append(info, class...)
		info = append(info, 0)
		info = append(info, stream...)
		src = hkdf.New(sha256.New, key, []byte("pii-go/fpe/nonce"), info)
	}

	if _, err := io.ReadFull(src, nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

// splitStreams partitions text into its ASCII digit and letter streams.
func splitStreams(text string) (digits, letters []byte) {
	for i := 0; i < len(text); i++ {
		switch c := text[i]; {
		case isDigit(c):
			digits = append(digits, c)
		case isLetter(c):
			letters = append(letters, c)
		}
	}
	return digits, letters
}

// reinterleave writes the mapped streams back into the character-class
// skeleton of text. Bytes outside both classes, including every byte of a
// multibyte UTF-8 sequence, are kept.
func reinterleave(text string, digits, letters []byte) string {
	out := []byte(text)
	di, li := 0, 0
	for i, c := range out {
		switch {
		case isDigit(c):
			out[i] = digits[di]
			di++
		case isLetter(c):
			out[i] = letters[li]
			li++
		}
	}
	return string(out)
}
