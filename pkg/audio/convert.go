package audio

import "encoding/binary"

// Int16sToBytes converts PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*BytesPerSample)
	PutInt16s(b, pcm)
	return b
}

// PutInt16s writes pcm into dst as little-endian samples and returns the
// number of samples written, limited by len(dst)/2.
func PutInt16s(dst []byte, pcm []int16) int {
	n := min(len(pcm), len(dst)/BytesPerSample)
	for i := range n {
		binary.LittleEndian.PutUint16(dst[i*BytesPerSample:], uint16(pcm[i]))
	}
	return n
}

// BytesToInt16s converts little-endian bytes to PCM samples. A trailing odd
// byte is ignored.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/BytesPerSample)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(b[i*BytesPerSample:]))
	}
	return pcm
}

// Silence returns a zeroed frame of n samples.
func Silence(n int) []int16 {
	return make([]int16, n)
}
