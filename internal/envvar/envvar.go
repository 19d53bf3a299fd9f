package envvar

const (
	// TalkingHeadEnv is the environment variable used to determine the environment
	TalkingHeadEnv = "TALKINGHEAD_ENV"

	// TalkingHeadServerHTTPPort is the environment variable used to determine the HTTP port
	TalkingHeadServerHTTPPort = "TALKINGHEAD_SERVER_HTTP_PORT"

	// TalkingHeadServerGRPCPort is the environment variable used to determine the gRPC port
	TalkingHeadServerGRPCPort = "TALKINGHEAD_SERVER_GRPC_PORT"

	// TalkingHeadWav2LipDir overrides the Wav2Lip installation directory.
	TalkingHeadWav2LipDir = "TALKINGHEAD_WAV2LIP_DIR"

	// TalkingHeadCheckpointPath overrides the checkpoint file path.
	TalkingHeadCheckpointPath = "TALKINGHEAD_CHECKPOINT_PATH"

	// TalkingHeadWorkDir overrides the directory holding per-request workspaces.
	TalkingHeadWorkDir = "TALKINGHEAD_WORK_DIR"

	// TalkingHeadLogLevel overrides the configured log level.
	TalkingHeadLogLevel = "TALKINGHEAD_LOG_LEVEL"
)
