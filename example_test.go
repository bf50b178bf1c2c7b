package blobfs_test

import (
	"context"
	"fmt"
	"log"

	"github.com/hupe1980/blobfs"
	"github.com/hupe1980/blobfs/connector"
	"github.com/hupe1980/blobfs/fspath"
)

func Example() {
	ctx := context.Background()

	fs, err := blobfs.New(connector.NewMemory(), blobfs.WithCache(32<<20))
	if err != nil {
		log.Fatal(err)
	}
	defer fs.Close()

	p := fspath.MustNew("data", "docs", "report")
	if err := fs.Write(ctx, p, []byte("hello, blobfs")); err != nil {
		log.Fatal(err)
	}

	content, err := fs.ReadAll(ctx, p)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(content))

	names, err := fs.List(ctx, fspath.MustNew("data", "docs"))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(names)

	// Output:
	// hello, blobfs
	// [report]
}

func Example_ranges() {
	ctx := context.Background()

	fs, err := blobfs.New(connector.NewMemoryWithConfig(connector.MemoryConfig{MaxBlobSize: 8}))
	if err != nil {
		log.Fatal(err)
	}
	defer fs.Close()

	p := fspath.MustNew("data", "alphabet")
	if err := fs.Write(ctx, p, []byte("abcdefghijklmnopqrstuvwxyz")); err != nil {
		log.Fatal(err)
	}

	// The range crosses blob boundaries transparently.
	part, err := fs.Read(ctx, p, 6, 5)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(part))

	info, err := fs.Stat(ctx, p)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("size=%d blobs=%d\n", info.Size, info.Blobs)

	// Output:
	// ghijk
	// size=26 blobs=4
}
