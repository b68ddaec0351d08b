// Command examples walks the full purchase flow against a quickpostd instance
// running with the dev payment driver: checkout, verify, generate, wait and
// download.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/reeseleonb-crypto/quickpostkit/sdk/go/quickpost"
)

func main() {
	apiURL := flag.String("api-url", "http://localhost:8080", "QuickPostKit API base URL")
	niche := flag.String("niche", "Power washing", "business niche")
	out := flag.String("out", ".", "output directory")
	flag.Parse()

	client, err := quickpost.NewClient(*apiURL, nil)
	if err != nil {
		fail(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	sess, err := client.Checkout(ctx, quickpost.Inputs{
		Niche:            *niche,
		Audience:         "local homeowners",
		ProductOrService: "exterior cleaning",
		ContentBalance:   quickpost.Balance(60),
	})
	if err != nil {
		fail(err)
	}
	fmt.Printf("checkout session %s (%s)\n", sess.SessionID, sess.URL)

	v, err := client.Verify(ctx, sess.SessionID)
	if err != nil {
		fail(err)
	}
	if !v.Paid {
		fail(fmt.Errorf("session %s is not paid yet; complete checkout at %s", sess.SessionID, sess.URL))
	}

	sub, err := client.Generate(ctx, sess.SessionID, nil)
	if err != nil {
		fail(err)
	}
	fmt.Printf("job %s submitted\n", sub.JobID)

	job, err := client.WaitForJob(ctx, sub.JobID, 0)
	if err != nil {
		fail(fmt.Errorf("%w: %s", err, job.Error))
	}

	path := filepath.Join(*out, job.Filename)
	f, err := os.Create(path)
	if err != nil {
		fail(err)
	}
	defer f.Close()
	n, err := client.Download(ctx, job.Filename, f)
	if err != nil {
		fail(err)
	}
	fmt.Printf("saved %s (%d bytes)\n", path, n)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
