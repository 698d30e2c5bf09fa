package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/GyroTools/mainzelhandler-connector-go/internals/config"
	"github.com/GyroTools/mainzelhandler-connector-go/internals/sheet"
	"github.com/GyroTools/mainzelhandler-connector-go/mainzelhandler"
	"github.com/GyroTools/mainzelhandler-connector-go/mainzelhandler/models"
	"github.com/spf13/cobra"
)

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func newHandler(ctx context.Context, cfg *config.Config) (*mainzelhandler.Handler, error) {
	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	return mainzelhandler.Create(ctx, mainzelhandler.Config{
		ServerURL:         cfg.Client.ServerURL,
		APIVersion:        cfg.Client.APIVersion,
		IDATFields:        cfg.Client.IDATFields,
		APIKey:            cfg.Client.APIKey,
		Username:          cfg.Client.Username,
		Password:          cfg.Client.Password,
		VerifyCertificate: cfg.Client.VerifyCertificate,
		Timeout:           cfg.Client.Timeout,
		Logger:            logger,
	})
}

// loadPatients reads the sheet and creates one patient per row. Rows
// without a key are numbered.
func loadPatients(handler *mainzelhandler.Handler, path string) (*models.Store, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	rows, err := sheet.Read(file, handler.Schema())
	if err != nil {
		return nil, err
	}
	store := models.NewStore()
	for i, row := range rows {
		patient, err := handler.CreatePatient(row.IDAT, row.MDAT)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		patient.Sureness = row.Sureness
		key := row.Key
		if key == "" {
			key = fmt.Sprintf("%d", i+1)
		}
		if _, exists := store.Get(key); exists {
			return nil, fmt.Errorf("row %d: duplicate key \"%s\"", i+2, key)
		}
		store.Set(key, patient)
	}
	return store, nil
}

func writePatients(handler *mainzelhandler.Handler, store *models.Store, out string) error {
	if out == "" {
		printPatients(store)
		return nil
	}
	file, err := os.Create(out)
	if err != nil {
		return err
	}
	defer file.Close()
	return sheet.WritePatients(file, handler.Schema(), store, store.Keys())
}

func printPatients(store *models.Store) {
	for _, key := range store.Keys() {
		patient, _ := store.Get(key)
		fmt.Printf("%s\t%s\t%s\t%s\n", key, patient.Status, patient.Pseudonym, patient.MDAT)
	}
}

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Pseudonymize the patients of a sheet and send their MDAT",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatients(cmd, func(ctx context.Context, h *mainzelhandler.Handler, store *models.Store) error {
				return h.SendPatients(ctx, store, nil, false)
			})
		},
	}
	addSheetFlags(cmd)
	return cmd
}

func requestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Pseudonymize the patients of a sheet and request their MDAT",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatients(cmd, func(ctx context.Context, h *mainzelhandler.Handler, store *models.Store) error {
				return h.RequestPatients(ctx, store, nil, false)
			})
		},
	}
	addSheetFlags(cmd)
	return cmd
}

func addSheetFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("file", "f", "", "xlsx file with one patient per row")
	cmd.Flags().StringP("out", "o", "", "xlsx file for the result, printed if empty")
	_ = cmd.MarkFlagRequired("file")
}

func runPatients(cmd *cobra.Command, run func(context.Context, *mainzelhandler.Handler, *models.Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	handler, err := newHandler(ctx, cfg)
	if err != nil {
		return err
	}
	file, _ := cmd.Flags().GetString("file")
	out, _ := cmd.Flags().GetString("out")

	store, err := loadPatients(handler, file)
	if err != nil {
		return err
	}
	if err := run(ctx, handler, store); err != nil {
		return err
	}

	conflicts := handler.GetPatients(store, nil, models.StatusIDATConflict, models.StatusIDATInvalid, models.StatusTokenInvalid)
	if len(conflicts) > 0 {
		fmt.Fprintf(os.Stderr, "%d patients could not be pseudonymized: %s\n", len(conflicts), strings.Join(conflicts, ", "))
	}
	return writePatients(handler, store, out)
}

func depseudonymizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "depseudonymize PSEUDONYM...",
		Short: "Read the IDAT of pseudonyms",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			handler, err := newHandler(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fields, _ := cmd.Flags().GetStringSlice("fields")
			out, _ := cmd.Flags().GetString("out")

			result, err := handler.Depseudonymize(cmd.Context(), args, fields...)
			if err != nil {
				return err
			}
			if out != "" {
				file, err := os.Create(out)
				if err != nil {
					return err
				}
				defer file.Close()
				return sheet.WriteDepseudonymized(file, handler.Schema(), args, result)
			}
			for _, pseudonym := range args {
				if patient, ok := result.Depseudonymized[pseudonym]; ok {
					fmt.Printf("%s\t%v\ttentative=%t\n", pseudonym, patient.IDAT, patient.Tentative)
				}
			}
			if len(result.Invalid) > 0 {
				fmt.Fprintf(os.Stderr, "invalid pseudonyms: %q\n", result.Invalid)
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("fields", nil, "idat fields to return, all by default")
	cmd.Flags().StringP("out", "o", "", "xlsx file for the result, printed if empty")
	return cmd
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping [URL]",
		Short: "Check that the backend is reachable",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := ""
			if len(args) > 0 {
				url = args[0]
			} else {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				url = cfg.Client.ServerURL
			}
			if err := mainzelhandler.Ping(cmd.Context(), url); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}
