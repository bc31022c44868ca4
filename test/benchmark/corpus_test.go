package benchmark

import (
	"math/rand/v2"
	"strings"
)

var vocabulary = strings.Fields(`patient reported nausea dizziness headache fatigue rash
	medication dose after before caused common effects mild severe the a and of with was
	were no but this by daily twice food onset hours days symptoms resolved persisted`)

// syntheticCorpus returns n documents of 8 to 24 words drawn from a fixed
// vocabulary with a fixed seed, so runs are comparable.
func syntheticCorpus(n int) []string {
	rng := rand.New(rand.NewPCG(42, 7))
	docs := make([]string, n)
	for i := range docs {
		words := make([]string, 8+rng.IntN(17))
		for j := range words {
			words[j] = vocabulary[rng.IntN(len(vocabulary))]
		}
		docs[i] = strings.Join(words, " ")
	}
	return docs
}

var benchQueries = []string{
	"nausea and dizziness",
	"headache",
	"patient reported severe rash",
	"the medication was taken with food",
	"unrelated query terms",
}
