package ntag424

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok9000(data ...byte) []byte {
	return append(data, 0x90, 0x00)
}

func TestReadNDEFThroughISO(t *testing.T) {
	cc := []byte{0x00, 0x17, 0x20, 0x00, 0x7F, 0x00, 0x7F, 0x04, 0x06, 0xE1, 0x04, 0x01, 0x00, 0x00, 0x00}
	card := &scriptedCard{replies: [][]byte{
		ok9000(),
		ok9000(),
		ok9000(cc...),
		ok9000(),
		ok9000(0x00, 0x05),
		ok9000(0xD1, 0x01, 0x01, 0x55, 0x00),
	}}

	file, err := ReadNDEF(card)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x05, 0xD1, 0x01, 0x01, 0x55, 0x00}, file)

	require.Len(t, card.sent, 6)
	assert.Equal(t, []byte{0x00, 0xA4, 0x04, 0x00, 0x07, 0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01, 0x00}, card.sent[0])
	assert.Equal(t, []byte{0x00, 0xA4, 0x00, 0x0C, 0x02, 0xE1, 0x03}, card.sent[1])
	assert.Equal(t, []byte{0x00, 0xA4, 0x00, 0x0C, 0x02, 0xE1, 0x04}, card.sent[3])
	assert.Equal(t, []byte{0x00, 0xB0, 0x00, 0x02, 0x05}, card.sent[5])
}

func TestReadBinaryRetriesWrongLe(t *testing.T) {
	card := &scriptedCard{replies: [][]byte{
		{0x6C, 0x03},
		ok9000(0x01, 0x02, 0x03),
	}}

	data, err := ReadBinary(card, 0, 0x10)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, data)
	require.Len(t, card.sent, 2)
	assert.Equal(t, byte(0x03), card.sent[1][4])
}

func TestSelectNDEFAppFailure(t *testing.T) {
	card := &scriptedCard{replies: [][]byte{{0x6A, 0x82}}}

	err := SelectNDEFApp(card)
	require.Error(t, err)
	sw, ok := StatusWord(err)
	require.True(t, ok)
	assert.Equal(t, uint16(SWFileNotFound), sw)
}

func TestWriteNDEFPlainChunks(t *testing.T) {
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	card := &scriptedCard{replies: [][]byte{ok9000(), ok9000(), ok9000(), ok9000()}}

	require.NoError(t, WriteNDEFPlain(card, data))
	require.Len(t, card.sent, 4)

	first, second := card.sent[2], card.sent[3]
	assert.Equal(t, []byte{0x00, 0xD6, 0x00, 0x00, 0xFF}, first[:5])
	assert.Equal(t, data[:255], first[5:])
	assert.Equal(t, []byte{0x00, 0xD6, 0x00, 0xFF, 45}, second[:5])
	assert.Equal(t, data[255:], second[5:])
}

func TestWriteNDEFDataRejected(t *testing.T) {
	card := &scriptedCard{replies: [][]byte{{0x69, 0x82}}}

	err := WriteNDEFData(card, []byte{0x00, 0x03})
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}
