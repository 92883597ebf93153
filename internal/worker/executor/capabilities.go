package executor

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

const sampleText = `AndroCompute is a distributed computing platform that leverages Android devices.
It allows parallel processing across multiple mobile devices.
This enables large computations to be broken into smaller tasks.`

const sampleData = "AndroCompute Distributed Computing Platform"

// ctxCheckEvery is how many loop iterations run between ctx checks.
const ctxCheckEvery = 1 << 16

func builtinCapabilities() map[string]capability {
	return map[string]capability{
		"md5":             capMD5,
		"sha256":          capSHA256,
		"digest":          capDigest,
		"pi":              capPi,
		"leibniz_pi":      capLeibnizPi,
		"sum_squares":     capSumSquares,
		"fibonacci":       capFibonacci,
		"primes":          capPrimes,
		"matrix_multiply": capMatrixMultiply,
		"word_frequency":  capWordFrequency,
		"series_sum":      capSeriesSum,
		"string_stats":    capStringStats,
	}
}

func capMD5(_ context.Context, args url.Values, out *Output) error {
	sum := md5.Sum([]byte(stringArg(args, "data", "androcompute")))
	out.Set(hex.EncodeToString(sum[:]))
	return nil
}

func capSHA256(_ context.Context, args url.Values, out *Output) error {
	sum := sha256.Sum256([]byte(stringArg(args, "data", "androcompute")))
	out.Set(hex.EncodeToString(sum[:]))
	return nil
}

func capDigest(_ context.Context, args url.Values, out *Output) error {
	data := []byte(stringArg(args, "data", sampleData))
	m := md5.Sum(data)
	s := sha256.Sum256(data)
	out.Set(map[string]string{
		"md5":    hex.EncodeToString(m[:]),
		"sha256": hex.EncodeToString(s[:]),
	})
	return nil
}

// capPi truncates the decimal form of pi to digits characters, the decimal
// point included.
func capPi(_ context.Context, args url.Values, out *Output) error {
	s := strconv.FormatFloat(math.Pi, 'f', -1, 64)
	n, err := intArg(args, "digits", 10, 1, len(s))
	if err != nil {
		return err
	}
	out.Set(s[:n])
	return nil
}

func capLeibnizPi(ctx context.Context, args url.Values, out *Output) error {
	terms, err := intArg(args, "terms", 1_000_000, 1, 100_000_000)
	if err != nil {
		return err
	}
	var sum float64
	sign := 1.0
	for i := 0; i < terms; i++ {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		sum += sign / float64(2*i+1)
		sign = -sign
	}
	out.Set(sum * 4)
	return nil
}

func capSumSquares(ctx context.Context, args url.Values, out *Output) error {
	n, err := intArg(args, "n", 1000, 0, 1_000_000)
	if err != nil {
		return err
	}
	var sum int64
	for i := int64(0); i < int64(n); i++ {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		sum += i * i
	}
	out.Set(sum)
	return nil
}

// capFibonacci returns F(n) with F(0)=0, F(1)=1.
func capFibonacci(_ context.Context, args url.Values, out *Output) error {
	n, err := intArg(args, "n", 20, 0, 93)
	if err != nil {
		return err
	}
	var a, b uint64 = 0, 1
	for i := 0; i < n; i++ {
		a, b = b, a+b
	}
	out.Set(a)
	return nil
}

func capPrimes(ctx context.Context, args url.Values, out *Output) error {
	limit, err := intArg(args, "limit", 50, 0, 10_000_000)
	if err != nil {
		return err
	}
	if limit < 2 {
		out.Set([]int{})
		return nil
	}
	composite := make([]bool, limit+1)
	primes := make([]int, 0)
	for i := 2; i <= limit; i++ {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if composite[i] {
			continue
		}
		primes = append(primes, i)
		for j := i * i; j <= limit; j += i {
			composite[j] = true
		}
	}
	out.Set(primes)
	return nil
}

// capMatrixMultiply multiplies A = [1..n*n] row-major by its reverse.
func capMatrixMultiply(_ context.Context, args url.Values, out *Output) error {
	n, err := intArg(args, "size", 3, 1, 128)
	if err != nil {
		return err
	}
	a := make([][]int64, n)
	b := make([][]int64, n)
	for i := 0; i < n; i++ {
		a[i] = make([]int64, n)
		b[i] = make([]int64, n)
		for j := 0; j < n; j++ {
			a[i][j] = int64(i*n + j + 1)
			b[i][j] = int64(n*n - (i*n + j))
		}
	}

	c := make([][]int64, n)
	for i := 0; i < n; i++ {
		c[i] = make([]int64, n)
		for j := 0; j < n; j++ {
			var sum int64
			for k := 0; k < n; k++ {
				sum += a[i][k] * b[k][j]
			}
			c[i][j] = sum
		}
	}
	out.Set(c)
	return nil
}

type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// capWordFrequency counts lower-cased alphanumeric words. Ties keep first
// appearance order.
func capWordFrequency(_ context.Context, args url.Values, out *Output) error {
	top, err := intArg(args, "top", 10, 1, 1000)
	if err != nil {
		return err
	}
	text := stringArg(args, "text", sampleText)

	counts := make(map[string]int)
	var order []string
	for _, field := range strings.Fields(strings.ToLower(text)) {
		word := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, field)
		if word == "" {
			continue
		}
		if counts[word] == 0 {
			order = append(order, word)
		}
		counts[word]++
	}

	words := make([]WordCount, 0, len(order))
	for _, w := range order {
		words = append(words, WordCount{Word: w, Count: counts[w]})
	}
	sort.SliceStable(words, func(i, j int) bool { return words[i].Count > words[j].Count })
	if len(words) > top {
		words = words[:top]
	}
	out.Set(words)
	return nil
}

// capSeriesSum sums 1/2^i for i in [0, terms).
func capSeriesSum(_ context.Context, args url.Values, out *Output) error {
	terms, err := intArg(args, "terms", 11, 0, 1024)
	if err != nil {
		return err
	}
	var sum float64
	for i := 0; i < terms; i++ {
		sum += 1 / math.Pow(2, float64(i))
	}
	out.Set(sum)
	return nil
}

func capStringStats(_ context.Context, args url.Values, out *Output) error {
	text := stringArg(args, "text", sampleData)
	runes := []rune(text)
	reversed := make([]rune, len(runes))
	for i, r := range runes {
		reversed[len(runes)-1-i] = r
	}
	out.Set(map[string]any{
		"uppercase":       strings.ToUpper(text),
		"lowercase":       strings.ToLower(text),
		"word_count":      len(strings.Fields(text)),
		"character_count": len(runes),
		"reversed":        string(reversed),
	})
	return nil
}
