package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ZentaChain/obvengine/pkg/attachment"
	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/identity"
	"github.com/ZentaChain/obvengine/pkg/protocol"
	"github.com/ZentaChain/obvengine/pkg/protocols/mutualscan"
	"github.com/ZentaChain/obvengine/pkg/protocols/photodownload"
	"github.com/ZentaChain/obvengine/pkg/servermethod"
	"github.com/ZentaChain/obvengine/pkg/storage"
)

func (e *env) services() (*crypto.Services, error) {
	alg, err := e.cfg.Engine.Algorithm()
	if err != nil {
		return nil, err
	}
	services := crypto.NewServices(nil)
	services.AuthEncAlgorithm = alg
	return services, nil
}

func (e *env) openDatabase(ctx context.Context) (*storage.Database, error) {
	return storage.Open(ctx, storage.Config{Path: e.cfg.Engine.DatabasePath, Logger: e.logger})
}

func newGenIdentityCommand(flags *rootFlags) *cobra.Command {
	var (
		serverURL string
		firstName string
		lastName  string
	)

	cmd := &cobra.Command{
		Use:   "gen-identity",
		Short: "Generate an owned identity and store it in the engine database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := flags.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			db, err := e.openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			owned, err := crypto.GenerateOwnedIdentity(serverURL, crypto.NewSystemPRNG())
			if err != nil {
				return err
			}
			details := &identity.Details{FirstName: firstName, LastName: lastName}
			identities := storage.NewIdentityStore()
			if err := db.PerformAndWait(ctx, func(oc *storage.ObvContext) error {
				return identities.SaveOwnedIdentity(oc, owned, details)
			}); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%x\n", owned.Identity(), owned.Identity().Bytes())
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "https://server.olvid.io", "server the identity belongs to")
	cmd.Flags().StringVar(&firstName, "first-name", "", "published first name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "published last name")
	return cmd
}

func newRunQueriesCommand(flags *rootFlags) *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "run-queries",
		Short: "Run the pending server queries of the engine database once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := flags.load()
			if err != nil {
				return err
			}
			if baseURL == "" {
				baseURL = e.cfg.Relay.BaseURL
			}
			ctx := cmd.Context()

			db, err := e.openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			services, err := e.services()
			if err != nil {
				return err
			}
			outbox := storage.NewOutbox(db, 0)
			engine, err := protocol.NewEngine(protocol.Config{
				Database: db,
				Channel:  protocol.NewOutboxChannel(outbox, services),
				Services: services,
				Logger:   e.logger,
			})
			if err != nil {
				return err
			}
			if err := engine.Register(mutualscan.Protocol(), photodownload.Protocol()); err != nil {
				return err
			}

			runner := &protocol.ServerQueryRunner{
				Engine:   engine,
				Outbox:   outbox,
				Executor: servermethod.NewClient(baseURL, nil, e.logger),
				Logger:   e.logger,
			}
			n, err := runner.RunOnce(ctx)
			if err != nil {
				return err
			}
			removed, err := outbox.Cleanup(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "answered %d queries, removed %d sent entries\n", n, removed)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "server", "", "server base URL (defaults to the configured relay)")
	return cmd
}

func newEncryptFileCommand(flags *rootFlags) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "encrypt-file <src> <manifest>",
		Short: "Encrypt a file into authenticated chunks",
		Long: `Encrypt a file into authenticated chunks. Chunks go to the engine database, or
to a directory with --dir. The manifest needed to decrypt is written to <manifest>.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := flags.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			services, err := e.services()
			if err != nil {
				return err
			}

			sink, closeFn, err := e.chunkStore(ctx, dir)
			if err != nil {
				return err
			}
			defer closeFn()

			manifest, err := attachment.EncryptFile(ctx, args[0], sink, services, e.pipelineConfig())
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], manifest.ObvEncode().Raw(), 0600); err != nil {
				return err
			}

			size, err := manifest.EncryptedSize()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "attachment %s: %d chunks, %d encrypted bytes\n",
				manifest.AttachmentID, manifest.ChunkCount(), size)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "store chunks as files under this directory")
	return cmd
}

func newDecryptFileCommand(flags *rootFlags) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "decrypt-file <manifest> <dst>",
		Short: "Reassemble a file from its encrypted chunks",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := flags.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			encoded, err := encoding.Decode(raw)
			if err != nil {
				return err
			}
			manifest, err := attachment.DecodeManifest(encoded)
			if err != nil {
				return err
			}

			source, closeFn, err := e.chunkStore(ctx, dir)
			if err != nil {
				return err
			}
			defer closeFn()

			return attachment.DecryptFile(ctx, source, manifest, args[1], e.pipelineConfig())
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "read chunks from files under this directory")
	return cmd
}

// chunkStore is both a sink and a source of encrypted chunks
type chunkStore interface {
	attachment.ChunkSink
	attachment.ChunkSource
}

func (e *env) chunkStore(ctx context.Context, dir string) (chunkStore, func(), error) {
	if dir != "" {
		return attachment.DirStore{Root: dir}, func() {}, nil
	}
	db, err := e.openDatabase(ctx)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewChunkStore(db), func() { db.Close() }, nil
}

func (e *env) pipelineConfig() attachment.PipelineConfig {
	return attachment.PipelineConfig{
		ChunkSize: e.cfg.Engine.ChunkSize,
		Workers:   e.cfg.Engine.Workers,
		Logger:    e.logger,
	}
}

func newChunkSizesCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chunk-sizes <cleartext-length>...",
		Short: "Print the encrypted length of chunks of the given cleartext lengths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := flags.load()
			if err != nil {
				return err
			}
			services, err := e.services()
			if err != nil {
				return err
			}
			key, err := services.NewAuthEncKey()
			if err != nil {
				return err
			}

			for _, arg := range args {
				n, err := strconv.Atoi(arg)
				if err != nil {
					return fmt.Errorf("invalid argument %q: %w", arg, err)
				}
				encrypted, err := attachment.EncryptedLength(n, key)
				if err != nil {
					return err
				}
				back, err := attachment.CleartextLength(encrypted, key)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d -> %d (-> %d)\n", n, encrypted, back)
			}
			return nil
		},
	}
}
