package benchmark

import (
	"fmt"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/tokenizer"
)

var sampleTexts = map[string]string{
	"short": "The patient reported nausea and dizziness caused by the medication.",
	"medium": `Headache and dizziness are common effects of this medication. After the
        medication, headache and nausea were reported by the patient. The medication
        caused a headache and nausea, but no dizziness was reported. Patients who
        reported nausea were advised to take the medication with food.`,
	"long": strings.Repeat(`Adverse event reports describe the symptoms a patient
        experienced after a dose: nausea, dizziness, headache, fatigue or rash. Each
        report names the medication, the dose and the time between dose and onset.
        Reviewers group reports by symptom and by medication to find signals. `, 20),
}

func BenchmarkTokenize(b *testing.B) {
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = tokenizer.Tokenize(text)
			}
		})
	}
}

func BenchmarkTokenizeParallel(b *testing.B) {
	text := sampleTexts["medium"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = tokenizer.Tokenize(text)
		}
	})
}

func BenchmarkCountTerms(b *testing.B) {
	terms := tokenizer.Tokenize(sampleTexts["long"])
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = tokenizer.CountTerms(terms)
	}
}

func BenchmarkTokenizeVaryingSize(b *testing.B) {
	sizes := []int{10, 100, 500, 1000, 5000}
	baseWord := "patient reported nausea and dizziness "
	for _, size := range sizes {
		text := strings.Repeat(baseWord, size/len(baseWord)+1)[:size]
		b.Run(fmt.Sprintf("bytes_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = tokenizer.Tokenize(text)
			}
		})
	}
}

func BenchmarkNGrams(b *testing.B) {
	words := tokenizer.Words(sampleTexts["long"])
	for n := 1; n <= 3; n++ {
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = tokenizer.NGrams(words, n)
			}
		})
	}
}
