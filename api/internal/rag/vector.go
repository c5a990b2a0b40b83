package rag

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"
)

// normalize приводит вектор к единичной длине: тогда порядок по L2 совпадает с порядком по косинусу.
func normalize(v []float32) []float32 {
	var n float64
	for _, x := range v {
		n += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if n == 0 {
		return out
	}
	n = math.Sqrt(n)
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

func l2(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return math.Sqrt(s)
}

// Score переводит расстояние в релевантность; монотонно убывает, лежит в (0,1].
func Score(distance float64) float64 {
	if distance < 0 {
		distance = 0
	}
	return 1 / (1 + distance)
}

type Neighbor struct {
	ID       int
	Distance float64
}

// bruteForce: точный перебор по L2; при равенстве выигрывает меньший ID.
func bruteForce(q []float32, vecs [][]float32, k int) []Neighbor {
	all := make([]Neighbor, 0, len(vecs))
	for i, v := range vecs {
		if len(v) != len(q) {
			continue
		}
		all = append(all, Neighbor{ID: i, Distance: l2(q, v)})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Distance < all[j].Distance })
	if len(all) > k {
		all = all[:k]
	}
	return all
}

// encodeFloat32s: little-endian blob, формат векторов sqlite-vec.
func encodeFloat32s(v []float32) []byte {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}
