package cmd

import (
	"errors"
	"fmt"

	"Boombot/core/plugin"
	"Boombot/storage"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	libraryPrefix string
	libraryAll    bool
)

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "List the audio library stored in MinIO",
	Example: `  # list songs under the library prefix
  boombot library

  # list every object in the bucket
  boombot library --all`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.MinioEnabled() {
			return errors.New("object storage is not configured (BOOMBOT_MINIO_ENDPOINT)")
		}
		store, err := storage.NewStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		prefix := libraryPrefix
		if prefix == "" && !libraryAll {
			prefix = cfg.LibraryPrefix
		}
		objects, err := store.ListObjects(cmd.Context(), prefix)
		if err != nil {
			return err
		}

		for _, o := range objects {
			if !libraryAll && !storage.IsAudio(o.Key) {
				continue
			}
			artist, title := plugin.ParseLibraryName(o.Key)
			fmt.Printf("%-60s %10s  %s - %s\n", o.Key, humanize.Bytes(uint64(o.Size)), artist, title)
		}

		stats := storage.Stats(objects)
		fmt.Printf("\nBucket %s, prefix %q: %d objects, %s", store.Bucket(), prefix, stats.TotalObjects, humanize.Bytes(uint64(stats.TotalSize)))
		if !stats.LastModified.IsZero() {
			fmt.Printf(", last modified %s", humanize.Time(stats.LastModified))
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(libraryCmd)
	libraryCmd.Flags().StringVarP(&libraryPrefix, "prefix", "p", "", "object prefix (default BOOMBOT_LIBRARY_PREFIX)")
	libraryCmd.Flags().BoolVar(&libraryAll, "all", false, "list every object, not only audio files")
}
