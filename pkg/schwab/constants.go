package schwab

const (
	DefaultBaseURL = "https://api.schwabapi.com"

	marketDataPath      = "/marketdata/v1"
	userPreferencePath  = "/trader/v1/userPreference"
	defaultRequestLimit = 120 // requests per minute
)

// Service names a streamer feed.
type Service string

const (
	ServiceAdmin            Service = "ADMIN"
	ServiceLevelOneEquities Service = "LEVELONE_EQUITIES"
	ServiceLevelOneOptions  Service = "LEVELONE_OPTIONS"
	ServiceLevelOneFutures  Service = "LEVELONE_FUTURES"
)

// IsMarketData reports whether s is a subscribable data service.
func (s Service) IsMarketData() bool {
	_, ok := serviceFields[s]
	return ok
}

// Command is the verb of a streamer request.
type Command string

const (
	CommandLogin  Command = "LOGIN"
	CommandLogout Command = "LOGOUT"
	CommandSubs   Command = "SUBS"
	CommandAdd    Command = "ADD"
	CommandUnsubs Command = "UNSUBS"
	CommandView   Command = "VIEW"
)

// Response codes carried in streamer acknowledgments.
const (
	CodeSuccess = 0
)

// Market identifiers accepted by GetMarketHours.
type Market string

const (
	MarketEquity Market = "equity"
	MarketOption Market = "option"
	MarketBond   Market = "bond"
	MarketFuture Market = "future"
	MarketForex  Market = "forex"
)

// Indexes accepted by GetMovers.
const (
	MoversDJI        = "$DJI"
	MoversCOMPX      = "$COMPX"
	MoversSPX        = "$SPX"
	MoversNYSE       = "NYSE"
	MoversNASDAQ     = "NASDAQ"
	MoversOTCBB      = "OTCBB"
	MoversIndexAll   = "INDEX_ALL"
	MoversEquityAll  = "EQUITY_ALL"
	MoversOptionAll  = "OPTION_ALL"
	MoversOptionPut  = "OPTION_PUT"
	MoversOptionCall = "OPTION_CALL"
)
