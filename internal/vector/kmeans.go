package vector

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
)

// Clustering is the result of k-means over sparse rows.
type Clustering struct {
	Labels    []int
	Centroids [][]float64
	Inertia   float64
}

// Members returns the row indices per cluster in ascending row order.
// Clusters that ended up empty are returned as nil slices.
func (c *Clustering) Members() [][]int {
	out := make([][]int, len(c.Centroids))
	for i, l := range c.Labels {
		out[l] = append(out[l], i)
	}
	return out
}

// Distance is the Euclidean distance from row v to the centroid of cluster.
func (c *Clustering) Distance(v Vector, cluster int) float64 {
	return math.Sqrt(math.Max(0, sqDist(v, v.Norm(), c.Centroids[cluster], sqNorm(c.Centroids[cluster]))))
}

// KMeansOptions tunes the Lloyd iterations.
type KMeansOptions struct {
	Seed    uint64
	NInit   int
	MaxIter int
}

// KMeans clusters rows of dimension dim into k groups using k-means++
// seeding from a PCG source. The best of NInit restarts by inertia wins.
// k is clamped to [1, len(rows)].
func KMeans(ctx context.Context, rows []Vector, dim, k int, opts KMeansOptions) (*Clustering, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyCorpus
	}
	k = max(1, min(k, len(rows)))
	if opts.NInit <= 0 {
		opts.NInit = 10
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = 100
	}

	norms := make([]float64, len(rows))
	for i, r := range rows {
		norms[i] = r.Norm()
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	var best *Clustering
	for run := 0; run < opts.NInit; run++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "vector: kmeans")
		}
		c := lloyd(rows, norms, dim, k, opts.MaxIter, rng)
		if best == nil || c.Inertia < best.Inertia {
			best = c
		}
	}
	return best, nil
}

func lloyd(rows []Vector, norms []float64, dim, k, maxIter int, rng *rand.Rand) *Clustering {
	centroids := seedPlusPlus(rows, norms, dim, k, rng)
	labels := make([]int, len(rows))
	for i := range labels {
		labels[i] = -1
	}
	var inertia float64
	for iter := 0; iter < maxIter; iter++ {
		cn := make([]float64, k)
		for c := range centroids {
			cn[c] = sqNorm(centroids[c])
		}
		changed := false
		inertia = 0
		dists := make([]float64, len(rows))
		for i, r := range rows {
			bestC, bestD := 0, math.Inf(1)
			for c := range centroids {
				if d := sqDist(r, norms[i], centroids[c], cn[c]); d < bestD {
					bestC, bestD = c, d
				}
			}
			dists[i] = bestD
			inertia += bestD
			if labels[i] != bestC {
				labels[i] = bestC
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, r := range rows {
			l := labels[i]
			counts[l]++
			for j, idx := range r.Idx {
				sums[l][idx] += r.Val[j]
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				// Reseed an empty cluster on the row farthest from its centroid.
				far := 0
				for i := range dists {
					if dists[i] > dists[far] {
						far = i
					}
				}
				centroids[c] = densify(rows[far], dim)
				dists[far] = 0
				continue
			}
			for j := range sums[c] {
				sums[c][j] /= float64(counts[c])
			}
			centroids[c] = sums[c]
		}
	}
	return &Clustering{Labels: labels, Centroids: centroids, Inertia: inertia}
}

func seedPlusPlus(rows []Vector, norms []float64, dim, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := rng.IntN(len(rows))
	centroids = append(centroids, densify(rows[first], dim))

	closest := make([]float64, len(rows))
	for i := range closest {
		closest[i] = math.Inf(1)
	}
	for len(centroids) < k {
		last := centroids[len(centroids)-1]
		ln := sqNorm(last)
		var total float64
		for i, r := range rows {
			if d := math.Max(0, sqDist(r, norms[i], last, ln)); d < closest[i] {
				closest[i] = d
			}
			total += closest[i]
		}
		pick := 0
		if total > 0 {
			target := rng.Float64() * total
			for i, d := range closest {
				target -= d
				if target <= 0 {
					pick = i
					break
				}
				pick = i
			}
		} else {
			pick = rng.IntN(len(rows))
		}
		centroids = append(centroids, densify(rows[pick], dim))
	}
	return centroids
}

func densify(v Vector, dim int) []float64 {
	out := make([]float64, dim)
	for j, idx := range v.Idx {
		out[idx] = v.Val[j]
	}
	return out
}

func sqNorm(c []float64) float64 {
	var s float64
	for _, x := range c {
		s += x * x
	}
	return s
}

// sqDist is |v-c|^2 expanded so only the non-zero entries of v are visited.
func sqDist(v Vector, vNorm float64, c []float64, cSqNorm float64) float64 {
	var dot float64
	for j, idx := range v.Idx {
		dot += v.Val[j] * c[idx]
	}
	return vNorm*vNorm - 2*dot + cSqNorm
}
