package protocol

// Command codes understood by the IRBIS64 server.
const (
	CmdRegisterClient   = "A"
	CmdUnregisterClient = "B"
	CmdReadRecord       = "C"
	CmdUpdateRecord     = "D"
	CmdActualizeRecord  = "F"
	CmdFormatRecord     = "G"
	CmdReadTerms        = "H"
	CmdReadPostings     = "I"
	CmdSearch           = "K"
	CmdReadDocument     = "L"
	CmdNop              = "N"
	CmdGetMaxMfn        = "O"
	CmdReadTermsReverse = "P"
	CmdUnlockRecords    = "Q"
	CmdEmptyDatabase    = "S"
	CmdUnlockDatabase   = "U"
	CmdReloadMasterFile = "X"
	CmdReloadDictionary = "Y"
	CmdGetServerVersion = "1"
	CmdListFiles        = "!"
	CmdGetProcessList   = "+3"
)

// Workstation codes sent with every query.
const (
	WorkstationAdministrator = "A"
	WorkstationCataloger     = "C"
	WorkstationAcquisitions  = "M"
	WorkstationReader        = "R"
	WorkstationCirculation   = "B"
	WorkstationProvision     = "K"
)

// Server return codes with a meaning the client acts upon.
const (
	CodeSuccess = 0

	CodeMfnOutOfRange       = -140
	CodeNoPreviousVersion   = -201
	CodeTermNotFound        = -202
	CodeLastTermInList      = -203
	CodeFirstTermInList     = -204
	CodeDatabaseLocked      = -300
	CodeRecordLogicallyDel  = -600
	CodeRecordPhysicallyDel = -601
	CodeRecordLocked        = -602
	CodeRecordDeleted       = -603
	CodeWrongProtocol       = -2222
	CodeClientNotRegistered = -3333
	CodeClientNotLoggedIn   = -3334
	CodeWrongClientID       = -3335
	CodeWorkstationDenied   = -3336
	CodeClientAlreadyExists = -3337
	CodeWrongPassword       = -4444
	CodeFileNotFound        = -5555
	CodeServerOverloaded    = -6666
	CodeGeneralError        = -8888
)

// Benign negative return codes per command.
var (
	ReadRecordCodes = []int{CodeNoPreviousVersion, CodeRecordLogicallyDel, CodeRecordLocked, CodeRecordDeleted}
	ReadTermsCodes  = []int{CodeTermNotFound, CodeLastTermInList, CodeFirstTermInList}
)

// MaxPostings is the largest number of MFNs the server returns for one search.
const MaxPostings = 32000

// Line terminators.
const (
	RequestNewLine = '\n'
	CRLF           = "\r\n"
)

// HeaderLines is the number of lines preceding the body of a response.
const HeaderLines = 10
