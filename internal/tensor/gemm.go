package tensor

const (
	defaultTileM = 32
	defaultTileN = 32
	defaultTileK = 16

	maxTile = 128
)

// GemmTiles is the blocking of a tiled matrix product.
type GemmTiles struct {
	M, N, K int
}

// DefaultGemmTiles is tuned for mid-sized square products; larger K prefers
// a deeper K tile.
func DefaultGemmTiles(k int) GemmTiles {
	t := GemmTiles{M: defaultTileM, N: defaultTileN, K: defaultTileK}
	switch {
	case k >= 192:
		t.K = 32
	case k >= 96:
		t.K = 24
	}
	return t
}

func (g GemmTiles) clamp() GemmTiles {
	return GemmTiles{M: clampTile(g.M), N: clampTile(g.N), K: clampTile(g.K)}
}

func clampTile(value int) int {
	if value < 1 {
		return 1
	}
	if value > maxTile {
		return maxTile
	}
	return value
}

// CheckGemm validates C[M,N] = A[M,K] * B[K,N].
func CheckGemm(c, a, b *Tensor) error {
	if a.Rank() != 2 || b.Rank() != 2 || c.Rank() != 2 {
		return errShapeMismatch
	}
	if a.shape[1] != b.shape[0] || c.shape[0] != a.shape[0] || c.shape[1] != b.shape[1] {
		return errShapeMismatch
	}
	if a.dtype != b.dtype || c.dtype != a.dtype {
		return errDTypeMismatch
	}
	if !c.IsContiguous() {
		return errNotContiguous
	}
	return nil
}

// GemmNaive computes C = A*B with the textbook triple loop. A and B may be
// strided views.
func GemmNaive(c, a, b *Tensor) error {
	if err := CheckGemm(c, a, b); err != nil {
		return err
	}
	m, k, n := a.shape[0], a.shape[1], b.shape[1]
	out := c.Data()
	for i := range m {
		for j := range n {
			var sum float32
			for kk := range k {
				sum += a.data[a.offset+i*a.strides[0]+kk*a.strides[1]] *
					b.data[b.offset+kk*b.strides[0]+j*b.strides[1]]
			}
			out[i*n+j] = sum
		}
	}
	c.round(0, m*n)
	return nil
}

// Gemm computes C = A*B with a blocked algorithm over all rows.
func Gemm(c, a, b *Tensor, tiles GemmTiles) error {
	if err := CheckGemm(c, a, b); err != nil {
		return err
	}
	a, b = a.Contiguous(), b.Contiguous()
	GemmRows(c, a, b, 0, c.shape[0], tiles)
	return nil
}

// GemmRows performs a blocked product on rows [rs, re) of C. A and B must
// be contiguous.
func GemmRows(c, a, b *Tensor, rs, re int, tiles GemmTiles) {
	tiles = tiles.clamp()
	k, n := a.shape[1], b.shape[1]
	cData, aData, bData := c.Data(), a.Data(), b.Data()
	aStride, bStride, cStride := k, n, n

	for i := rs; i < re; i++ {
		clear(cData[i*cStride : i*cStride+n])
	}
	for i0 := rs; i0 < re; i0 += tiles.M {
		iMax := min(i0+tiles.M, re)
		for k0 := 0; k0 < k; k0 += tiles.K {
			kMax := min(k0+tiles.K, k)
			for j0 := 0; j0 < n; j0 += tiles.N {
				jMax := min(j0+tiles.N, n)
				blockUpdate(cData, aData, bData, cStride, aStride, bStride, i0, iMax, j0, jMax, k0, kMax)
			}
		}
	}
	c.round(rs*n, re*n)
}

func blockUpdate(cData, aData, bData []float32, cStride, aStride, bStride int, i0, iMax, j0, jMax, k0, kMax int) {
	width := jMax - j0
	for i := i0; i < iMax; i++ {
		aRow := aData[i*aStride:]
		cOff := i*cStride + j0
		cRow := cData[cOff : cOff+width]

		for kk := k0; kk < kMax; kk++ {
			aik := aRow[kk]
			bOff := kk*bStride + j0
			bRow := bData[bOff : bOff+width]

			j := 0
			for ; j+3 < width; j += 4 {
				cRow[j+0] += aik * bRow[j+0]
				cRow[j+1] += aik * bRow[j+1]
				cRow[j+2] += aik * bRow[j+2]
				cRow[j+3] += aik * bRow[j+3]
			}
			for ; j < width; j++ {
				cRow[j] += aik * bRow[j]
			}
		}
	}
}
