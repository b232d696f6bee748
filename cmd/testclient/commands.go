package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dasmlab/fukidashi/pkg/server"
	"github.com/dasmlab/fukidashi/pkg/service"
	"github.com/dasmlab/fukidashi/pkg/translate"
)

// readLines returns the non-empty lines of path, or of stdin for "-".
func readLines(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func printFragments(fragments []translate.Fragment) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSTATUS\tLANG\tORIGINAL\tTRANSLATION")
	for _, f := range fragments {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", f.ID, f.Status, f.DetectedLanguage, f.OriginalText, f.TranslatedText)
	}
	tw.Flush()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func newTranslateCmd() *cobra.Command {
	var (
		texts    []string
		file     string
		source   string
		target   string
		provider string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate texts",
		Long:  `Translate the --text values, or the non-empty lines of --file ("-" reads stdin).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				lines, err := readLines(file)
				if err != nil {
					return err
				}
				texts = append(texts, lines...)
			}
			if len(texts) == 0 {
				return errors.New("either --text or --file must be provided")
			}

			resp, err := newClient().translate(cmd.Context(), server.TranslateRequest{
				Texts:      texts,
				SourceLang: source,
				TargetLang: target,
				Provider:   provider,
			})
			if err != nil {
				return err
			}

			logger.WithFields(logrus.Fields{
				"provider":  resp.Provider,
				"fragments": len(resp.Fragments),
			}).Info("Translation received")

			if asJSON {
				return printJSON(resp)
			}
			printFragments(resp.Fragments)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&texts, "text", "t", nil, "Text to translate (repeatable)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "File with one text per line")
	cmd.Flags().StringVar(&source, "source", "auto", "Source language code")
	cmd.Flags().StringVar(&target, "target", "en", "Target language code")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider id (server default when empty)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw JSON response")

	return cmd
}

func newRecognizeCmd() *cobra.Command {
	var (
		lang     string
		target   string
		provider string
		format   string
	)

	cmd := &cobra.Command{
		Use:   "recognize <image>",
		Short: "Recognize text in an image",
		Long:  `Recognize the text in an image. With --target the text is translated as well.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			query.Set("lang", lang)
			if target != "" {
				query.Set("target", target)
			}
			if provider != "" {
				query.Set("provider", provider)
			}
			if format == "csv" {
				query.Set("format", "csv")
			}

			body, err := newClient().postImage(cmd.Context(), "/api/v1/recognize", args[0], query)
			if err != nil {
				return err
			}
			defer body.Close()

			if format == "csv" {
				_, err := io.Copy(os.Stdout, body)
				return err
			}

			var outcome service.Outcome
			if err := json.NewDecoder(body).Decode(&outcome); err != nil {
				return err
			}

			logger.WithFields(logrus.Fields{
				"language":  outcome.Language,
				"pass":      outcome.Pass,
				"fragments": len(outcome.Fragments),
			}).Info("Recognition received")

			if format == "json" {
				return printJSON(outcome)
			}
			printFragments(outcome.Fragments)
			return nil
		},
	}

	cmd.Flags().StringVar(&lang, "lang", "auto", "Recognition language or auto")
	cmd.Flags().StringVar(&target, "target", "", "Target language; empty skips translation")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider id (server default when empty)")
	cmd.Flags().StringVar(&format, "format", "table", "Output: table, json or csv")

	return cmd
}

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage asynchronous jobs",
	}

	cmd.AddCommand(
		newJobSubmitCmd(),
		newJobStatusCmd(),
		newJobWatchCmd(),
		newJobExportCmd(),
	)

	return cmd
}

func newJobSubmitCmd() *cobra.Command {
	var (
		image    string
		texts    []string
		lang     string
		target   string
		provider string
		wait     bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job for an image (--image) or texts (--text)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()

			var job service.JobSnapshot
			switch {
			case image != "":
				query := url.Values{}
				query.Set("lang", lang)
				query.Set("target", target)
				if provider != "" {
					query.Set("provider", provider)
				}

				body, err := c.postImage(cmd.Context(), "/api/v1/jobs", image, query)
				if err != nil {
					return err
				}
				defer body.Close()

				if err := json.NewDecoder(body).Decode(&job); err != nil {
					return err
				}
			case len(texts) > 0:
				err := c.postJSON(cmd.Context(), "/api/v1/jobs", server.TranslateRequest{
					Texts:      texts,
					SourceLang: lang,
					TargetLang: target,
					Provider:   provider,
				}, &job)
				if err != nil {
					return err
				}
			default:
				return errors.New("either --image or --text must be provided")
			}

			logger.WithFields(logrus.Fields{
				"job_id":     job.ID,
				"request_id": job.RequestID,
			}).Info("Job submitted")

			if !wait {
				fmt.Println(job.ID)
				return nil
			}
			return watch(cmd, c, job.ID)
		},
	}

	cmd.Flags().StringVar(&image, "image", "", "Image to recognize and translate")
	cmd.Flags().StringArrayVarP(&texts, "text", "t", nil, "Text to translate (repeatable)")
	cmd.Flags().StringVar(&lang, "lang", "auto", "Source language or auto")
	cmd.Flags().StringVar(&target, "target", "en", "Target language code")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider id (server default when empty)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Follow the job until it finishes")

	return cmd
}

func newJobStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print a job's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := newClient().job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(job)
		},
	}
}

func newJobWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job's progress events until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch(cmd, newClient(), args[0])
		},
	}
}

func watch(cmd *cobra.Command, c *client, id string) error {
	var last service.JobSnapshot

	err := c.follow(cmd.Context(), id, func(snap service.JobSnapshot) {
		last = snap
		logger.WithFields(logrus.Fields{
			"job_id":   snap.ID,
			"status":   snap.Status,
			"progress": snap.ProgressPercent,
		}).Info(snap.ProgressMessage)
	})
	if err != nil {
		return err
	}

	switch last.Status {
	case service.JobStatusCompleted:
		printFragments(last.Fragments)
		return nil
	case service.JobStatusFailed:
		return fmt.Errorf("job %s failed: %s", id, last.Error)
	default:
		return fmt.Errorf("event stream for job %s ended early", id)
	}
}

func newJobExportCmd() *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export <job-id>",
		Short: "Download a completed job as JSON or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := newClient().get(cmd.Context(),
				"/api/v1/jobs/"+url.PathEscape(args[0])+"/export?format="+url.QueryEscape(format))
			if err != nil {
				return err
			}
			defer body.Close()

			var w io.Writer = os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			_, err = io.Copy(w, body)
			return err
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "Export format: json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")

	return cmd
}

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the server's providers and recognition languages",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := newClient().getJSON(cmd.Context(), "/api/v1/providers", &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}
