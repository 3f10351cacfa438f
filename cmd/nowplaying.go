package cmd

import (
	"errors"
	"fmt"

	"Boombot/cache"

	"github.com/spf13/cobra"
)

var nowPlayingCmd = &cobra.Command{
	Use:   "nowplaying",
	Short: "Print the now-playing state last published to Redis",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.RedisEnabled() {
			return errors.New("redis is not configured (BOOMBOT_REDIS_HOST)")
		}
		if err := cache.ConnectRedis(cfg); err != nil {
			return err
		}
		defer cache.CloseRedis()

		np, ok, err := cache.LoadNowPlaying(cmd.Context(), cache.RedisClient)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Nothing published yet")
			return nil
		}
		fmt.Println(np.Title)
		fmt.Printf("queue depth: %d, updated %s\n", np.QueueDepth, np.UpdatedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(nowPlayingCmd)
}
