package cmd

import (
	"context"
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/rangedl/internal/output"
	"github.com/tanq16/rangedl/internal/scheduler"
	"github.com/tanq16/rangedl/internal/utils"
)

var (
	outputPath    string
	connections   int
	speedLimit    string
	timeout       time.Duration
	readTimeout   time.Duration
	kaTimeout     time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	maxRedirects  int
	reconnect     bool
	interactive   bool
	debug         bool
)

var rootCmd = &cobra.Command{
	Use:   "rangedl [URL]",
	Short: "rangedl is a parallel range downloader with pause, resume and speed limits",
	Args:  cobra.ExactArgs(1),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
	},
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := u.ParseRequestURI(args[0]); err != nil {
			output.PrintError("Invalid URL format")
			os.Exit(1)
		}
		path := outputPath
		if path != "" {
			if _, err := os.Stat(path); err == nil {
				path = utils.RenewOutputPath(path)
				output.PrintWarning(fmt.Sprintf("%s already exists, saving to %s", outputPath, path))
			}
		}
		base, err := baseJob()
		if err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}
		job, err := scheduler.NewJob(utils.DownloadEntry{URL: args[0], OutputPath: path}, base)
		if err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}
		if err := runJobs([]utils.DownloadJob{job}, 1); err != nil {
			output.PrintError("Download failed")
			os.Exit(1)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// baseJob turns the shared flags into the job template every download
// starts from.
func baseJob() (utils.DownloadJob, error) {
	limit, err := utils.ParseSpeed(speedLimit)
	if err != nil {
		return utils.DownloadJob{}, err
	}
	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	// credentials embedded in the proxy URL win only if no flag was given
	parsedProxy, err := u.Parse(proxyURL)
	if err == nil && parsedProxy.User != nil && proxyUsername == "" {
		proxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			proxyPassword = password
		}
		parsedProxy.User = nil
		proxyURL = parsedProxy.String()
	}
	redirects := maxRedirects
	if redirects == 0 {
		redirects = -1 // the downloader reads 0 as its default
	}
	return utils.DownloadJob{
		Connections:  connections,
		SpeedLimit:   limit,
		MaxRedirects: redirects,
		Reconnect:    reconnect,
		HTTPClientConfig: utils.HTTPClientConfig{
			Timeout:        timeout,
			ReadTimeout:    readTimeout,
			KATimeout:      kaTimeout,
			ProxyURL:       proxyURL,
			ProxyUsername:  proxyUsername,
			ProxyPassword:  proxyPassword,
			UserAgent:      userAgent,
			Headers:        utils.ParseHeaderArgs(headers),
			HighThreadMode: connections > 8,
		},
	}, nil
}

func runJobs(jobs []utils.DownloadJob, workers int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if restore, err := output.RedirectLogs(utils.LogFile); err == nil {
		defer restore()
	}
	s := scheduler.New(workers, nil)
	if interactive {
		output.PrintInfo("Controls: p = pause, r = resume, l <speed> = set limit (e.g. l 2MB, l 0)")
		go s.ListenCommands(ctx, os.Stdin)
	}
	return s.Run(ctx, jobs)
}

func init() {
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (inferred from the server or URL if not provided)")

	flags := rootCmd.PersistentFlags()
	flags.IntVarP(&connections, "connections", "c", utils.DefaultConnections, "Number of parallel range requests per download (above 8 enables high-thread-mode)")
	flags.StringVarP(&speedLimit, "limit", "l", "0", "Overall speed limit per download (eg. 500KB, 2MB, 0 for unlimited)")
	flags.DurationVarP(&timeout, "timeout", "t", utils.DefaultConnectTimeout, "Connection timeout (eg. 5s, 1m)")
	flags.DurationVar(&readTimeout, "read-timeout", utils.DefaultReadTimeout, "Longest wait for data on an open connection")
	flags.DurationVarP(&kaTimeout, "keep-alive-timeout", "k", utils.DefaultKATimeout, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	flags.StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent ('randomize' picks one from a built-in list)")
	flags.StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	flags.StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	flags.StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	flags.StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	flags.IntVar(&maxRedirects, "max-redirects", 1, "Redirect hops followed while resolving the file size")
	flags.BoolVar(&reconnect, "reconnect", true, "Re-request the rest of a range when a connection ended during a pause")
	flags.BoolVarP(&interactive, "interactive", "i", false, "Read pause/resume/limit commands from stdin")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newVersionCmd())
}
