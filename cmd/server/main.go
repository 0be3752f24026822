package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/pagepilot/internal/generate"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/storage"
)

const (
	commandUseName               = "server"
	commandShortDescription      = "Run the landing page server"
	commandLongDescription       = "Serve published landing pages, collect clicks, render heatmaps and proxy ad copy generation"
	missingConfigurationMessage  = "missing required configuration"
	loggerCreationErrorMessage   = "logger"
	logEventListening            = "listening"
	logEventShuttingDown         = "shutting_down"
	logEventGenerationDisabled   = "ad_generation_disabled"
	logFieldAddress              = "addr"
	logFieldServeMode            = "serve_mode"
	loggerContextOpenDatabase    = "open_db"
	loggerContextAutoMigrate     = "migrate"
	loggerContextServer          = "server"
	loggerContextCompleter       = "completer"
	readHeaderTimeoutSeconds     = 5
	shutdownTimeoutSeconds       = 15
	unexpectedArgumentsMessage   = "unexpected command arguments"
	commandInitializationFailure = "failed to configure command"
	flagNotDefinedMessage        = "flag %s not defined"
	environmentConfigurationErr  = "failed to apply environment configuration"
	clickRollupJobName           = "click_rollup"

	flagNameApplicationAddress   = "app-addr"
	flagNameDatabaseDriver       = "db-driver"
	flagNameDatabaseDataSource   = "db-dsn"
	flagNameAdminBearerToken     = "admin-bearer-token"
	flagNameAnthropicAPIKey      = "anthropic-api-key"
	flagNameAnthropicModel       = "anthropic-model"
	flagNamePublicBaseURL        = "public-base-url"
	flagNameServeMode            = "serve-mode"
	flagNameClickRetentionDays   = "click-retention-days"
	flagNameRollupInterval       = "rollup-interval"
	environmentKeyAppAddress     = "APP_ADDR"
	environmentKeyDatabaseDriver = "DB_DRIVER"
	environmentKeyDatabaseDSN    = "DB_DSN"
	environmentKeyAdminToken     = "ADMIN_BEARER_TOKEN"
	environmentKeyAnthropicKey   = "ANTHROPIC_API_KEY"
	environmentKeyAnthropicModel = "ANTHROPIC_MODEL"
	environmentKeyPublicBaseURL  = "PUBLIC_BASE_URL"
	environmentKeyServeMode      = "SERVE_MODE"
	environmentKeyRetentionDays  = "CLICK_RETENTION_DAYS"
	environmentKeyRollupInterval = "ROLLUP_INTERVAL"
	defaultApplicationAddress    = ":8080"
	defaultPublicBaseURL         = "http://localhost:8080"
	defaultClickRetentionDays    = 90
	defaultRollupInterval        = time.Hour
)

// ServerConfig captures configuration needed to run the server.
type ServerConfig struct {
	ApplicationAddress     string
	DatabaseDriverName     string
	DatabaseDataSourceName string
	AdminBearerToken       string
	AnthropicAPIKey        string
	AnthropicModel         string
	PublicBaseURL          string
	ServeMode              ServeMode
	ClickRetentionDays     int
	RollupInterval         time.Duration
}

// DatabaseOpener opens a database connection using the provided configuration.
type DatabaseOpener func(storage.Config) (*gorm.DB, error)

type flagBinding struct {
	flagName       string
	environmentKey string
}

var flagBindings = []flagBinding{
	{flagName: flagNameApplicationAddress, environmentKey: environmentKeyAppAddress},
	{flagName: flagNameDatabaseDriver, environmentKey: environmentKeyDatabaseDriver},
	{flagName: flagNameDatabaseDataSource, environmentKey: environmentKeyDatabaseDSN},
	{flagName: flagNameAdminBearerToken, environmentKey: environmentKeyAdminToken},
	{flagName: flagNameAnthropicAPIKey, environmentKey: environmentKeyAnthropicKey},
	{flagName: flagNameAnthropicModel, environmentKey: environmentKeyAnthropicModel},
	{flagName: flagNamePublicBaseURL, environmentKey: environmentKeyPublicBaseURL},
	{flagName: flagNameServeMode, environmentKey: environmentKeyServeMode},
	{flagName: flagNameClickRetentionDays, environmentKey: environmentKeyRetentionDays},
	{flagName: flagNameRollupInterval, environmentKey: environmentKeyRollupInterval},
}

// ServerApplication constructs and executes the server command.
type ServerApplication struct {
	configurationLoader *viper.Viper
	databaseOpener      DatabaseOpener
}

// NewServerApplication creates a ServerApplication with default dependencies.
func NewServerApplication() *ServerApplication {
	return &ServerApplication{
		configurationLoader: viper.New(),
		databaseOpener:      storage.OpenDatabase,
	}
}

// WithDatabaseOpener overrides the database opener dependency.
func (application *ServerApplication) WithDatabaseOpener(databaseOpener DatabaseOpener) *ServerApplication {
	application.databaseOpener = databaseOpener
	return application
}

// Command builds the Cobra command for the server.
func (application *ServerApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		RunE:  application.runCommand,
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	return rootCommand, nil
}

func (application *ServerApplication) configureCommand(command *cobra.Command) error {
	application.configurationLoader.SetDefault(environmentKeyAppAddress, defaultApplicationAddress)
	application.configurationLoader.SetDefault(environmentKeyDatabaseDriver, storage.DriverNameSQLite)
	application.configurationLoader.SetDefault(environmentKeyAnthropicModel, generate.DefaultModel)
	application.configurationLoader.SetDefault(environmentKeyPublicBaseURL, defaultPublicBaseURL)
	application.configurationLoader.SetDefault(environmentKeyServeMode, string(ServeModeMonolith))
	application.configurationLoader.SetDefault(environmentKeyRetentionDays, defaultClickRetentionDays)
	application.configurationLoader.SetDefault(environmentKeyRollupInterval, defaultRollupInterval)
	application.configurationLoader.AutomaticEnv()

	commandFlags := command.Flags()
	commandFlags.String(flagNameApplicationAddress, defaultApplicationAddress, "address for the HTTP server to listen on")
	commandFlags.String(flagNameDatabaseDriver, storage.DriverNameSQLite, "database driver name")
	commandFlags.String(flagNameDatabaseDataSource, "", "database data source name")
	commandFlags.String(flagNameAdminBearerToken, "", "bearer token required for dashboard API access")
	commandFlags.String(flagNameAnthropicAPIKey, "", "Anthropic API key; ad generation is disabled when empty")
	commandFlags.String(flagNameAnthropicModel, generate.DefaultModel, "Anthropic model used for ad generation")
	commandFlags.String(flagNamePublicBaseURL, defaultPublicBaseURL, "public base URL used in page links and the click tracker")
	commandFlags.String(flagNameServeMode, string(ServeModeMonolith), "route groups to serve: monolith, web or api")
	commandFlags.Int(flagNameClickRetentionDays, defaultClickRetentionDays, "days of raw clicks and views to keep; 0 keeps everything")
	commandFlags.Duration(flagNameRollupInterval, defaultRollupInterval, "interval between click rollup runs")

	for _, binding := range flagBindings {
		if bindErr := application.bindFlag(commandFlags, binding.environmentKey, binding.flagName); bindErr != nil {
			return bindErr
		}
	}

	for _, binding := range flagBindings {
		if environmentErr := application.applyEnvironmentConfiguration(commandFlags, binding.environmentKey, binding.flagName); environmentErr != nil {
			return environmentErr
		}
	}

	return nil
}

func (application *ServerApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}

	if bindErr := application.configurationLoader.BindPFlag(environmentKey, flag); bindErr != nil {
		return bindErr
	}

	return nil
}

func (application *ServerApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}

	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationErr, setErr)
	}

	return nil
}

func (application *ServerApplication) loadServerConfig() (ServerConfig, error) {
	serveMode, serveModeErr := ParseServeMode(application.configurationLoader.GetString(environmentKeyServeMode))
	if serveModeErr != nil {
		return ServerConfig{}, serveModeErr
	}
	retentionDays := application.configurationLoader.GetInt(environmentKeyRetentionDays)
	if retentionDays < 0 {
		return ServerConfig{}, fmt.Errorf("%s must not be negative", flagNameClickRetentionDays)
	}
	return ServerConfig{
		ApplicationAddress:     strings.TrimSpace(application.configurationLoader.GetString(environmentKeyAppAddress)),
		DatabaseDriverName:     strings.TrimSpace(application.configurationLoader.GetString(environmentKeyDatabaseDriver)),
		DatabaseDataSourceName: strings.TrimSpace(application.configurationLoader.GetString(environmentKeyDatabaseDSN)),
		AdminBearerToken:       strings.TrimSpace(application.configurationLoader.GetString(environmentKeyAdminToken)),
		AnthropicAPIKey:        strings.TrimSpace(application.configurationLoader.GetString(environmentKeyAnthropicKey)),
		AnthropicModel:         strings.TrimSpace(application.configurationLoader.GetString(environmentKeyAnthropicModel)),
		PublicBaseURL:          strings.TrimRight(strings.TrimSpace(application.configurationLoader.GetString(environmentKeyPublicBaseURL)), "/"),
		ServeMode:              serveMode,
		ClickRetentionDays:     retentionDays,
		RollupInterval:         application.configurationLoader.GetDuration(environmentKeyRollupInterval),
	}, nil
}

func (application *ServerApplication) runCommand(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}

	serverConfig, configErr := application.loadServerConfig()
	if configErr != nil {
		return configErr
	}

	if validationErr := application.ensureRequiredConfiguration(serverConfig); validationErr != nil {
		return validationErr
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	database, databaseErr := application.databaseOpener(storage.Config{
		DriverName:     serverConfig.DatabaseDriverName,
		DataSourceName: serverConfig.DatabaseDataSourceName,
	})
	if databaseErr != nil {
		logger.Error(loggerContextOpenDatabase, zap.Error(databaseErr))
		return databaseErr
	}

	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		logger.Error(loggerContextAutoMigrate, zap.Error(migrateErr))
		return migrateErr
	}

	completer, completerErr := newCompleter(serverConfig)
	if completerErr != nil {
		logger.Error(loggerContextCompleter, zap.Error(completerErr))
		return completerErr
	}
	if completer == nil {
		logger.Info(logEventGenerationDisabled)
	}

	components := buildServerComponents(serverConfig, database, completer, logger)
	router := buildRouter(serverConfig, components, logger)

	runtimeContext, stopSignals := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	if serverConfig.ServeMode.servesAPI() {
		components.rollupScheduler.Start(runtimeContext)
		defer components.rollupScheduler.Stop()
	}

	return serveUntilDone(runtimeContext, serverConfig, router, logger)
}

func serveUntilDone(runtimeContext context.Context, serverConfig ServerConfig, router *gin.Engine, logger *zap.Logger) error {
	httpServer := &http.Server{
		Addr:              serverConfig.ApplicationAddress,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeoutSeconds * time.Second,
	}

	serveErrors := make(chan error, 1)
	go func() {
		logger.Info(logEventListening,
			zap.String(logFieldAddress, serverConfig.ApplicationAddress),
			zap.String(logFieldServeMode, string(serverConfig.ServeMode)),
		)
		serveErrors <- httpServer.ListenAndServe()
	}()

	select {
	case serveErr := <-serveErrors:
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error(loggerContextServer, zap.Error(serveErr))
			return serveErr
		}
		return nil
	case <-runtimeContext.Done():
	}

	logger.Info(logEventShuttingDown)
	shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownContext); shutdownErr != nil {
		logger.Error(loggerContextServer, zap.Error(shutdownErr))
		return shutdownErr
	}
	return nil
}

func newCompleter(serverConfig ServerConfig) (generate.Completer, error) {
	if serverConfig.AnthropicAPIKey == "" {
		return nil, nil
	}
	return generate.NewAnthropicCompleter(generate.AnthropicConfig{
		APIKey: serverConfig.AnthropicAPIKey,
		Model:  serverConfig.AnthropicModel,
	})
}

func (application *ServerApplication) ensureRequiredConfiguration(configuration ServerConfig) error {
	var missingParameters []string

	if configuration.DatabaseDataSourceName == "" {
		missingParameters = append(missingParameters, flagNameDatabaseDataSource)
	}

	if configuration.AdminBearerToken == "" {
		missingParameters = append(missingParameters, flagNameAdminBearerToken)
	}

	if len(missingParameters) == 0 {
		return nil
	}

	return fmt.Errorf("%s: %s", missingConfigurationMessage, strings.Join(missingParameters, ", "))
}

func main() {
	application := NewServerApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}
