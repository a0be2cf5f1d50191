package apic

// CMOS/RTC ports and register indices. The seconds register doubles as the
// calibration reference clock; the full register set backs ReadTime.
const (
	cmosAddressPort = 0x70
	cmosDataPort    = 0x71

	rtcRegSeconds = 0x00
	rtcRegMinutes = 0x02
	rtcRegHours   = 0x04
	rtcRegDay     = 0x07
	rtcRegMonth   = 0x08
	rtcRegYear    = 0x09
	rtcRegCentury = 0x32
	rtcRegStatusA = 0x0A
	rtcRegStatusB = 0x0B

	rtcUpdateInProgress = 1 << 7

	// Status register B mode bits: when statusBBinary is clear the clock
	// registers hold BCD values, and when statusB24Hour is clear the hours
	// register runs in 12-hour mode with bit 7 signalling PM.
	statusB24Hour = 1 << 1
	statusBBinary = 1 << 2

	hoursPMBit = 1 << 7
)

func readCMOS(reg uint8) uint8 {
	portOutFn(cmosAddressPort, reg)
	return portInFn(cmosDataPort)
}

func rtcUpdating() bool {
	return readCMOS(rtcRegStatusA)&rtcUpdateInProgress != 0
}

// waitForSecondChange blocks (busy-polling the RTC) until the seconds field
// changes value, giving calibration a reference clock edge to measure
// against. It avoids sampling while the RTC itself is mid-update, when the
// seconds register can read back a transient, inconsistent value.
func waitForSecondChange() {
	for rtcUpdating() {
	}
	start := readCMOS(rtcRegSeconds)

	for {
		for rtcUpdating() {
		}
		if readCMOS(rtcRegSeconds) != start {
			return
		}
	}
}

// Time is a wall-clock timestamp read from the CMOS RTC.
type Time struct {
	Year   uint16
	Month  uint8
	Day    uint8
	Hour   uint8
	Minute uint8
	Second uint8
}

// rtcSample holds one raw read of every clock register.
type rtcSample struct {
	second, minute, hour uint8
	day, month, year     uint8
	century              uint8
}

func readClockRegisters() rtcSample {
	for rtcUpdating() {
	}
	return rtcSample{
		second:  readCMOS(rtcRegSeconds),
		minute:  readCMOS(rtcRegMinutes),
		hour:    readCMOS(rtcRegHours),
		day:     readCMOS(rtcRegDay),
		month:   readCMOS(rtcRegMonth),
		year:    readCMOS(rtcRegYear),
		century: readCMOS(rtcRegCentury),
	}
}

func bcdToBinary(v uint8) uint8 {
	return (v & 0x0F) + (v/16)*10
}

// ReadTime reads the current wall-clock time from the CMOS RTC. The clock
// registers cannot be latched, so they are re-read until two consecutive
// samples agree, which rules out having raced an in-progress update. The
// raw values are then decoded according to status register B: BCD digits
// unless the binary-mode bit is set, and a 12-hour cycle with a PM flag in
// the hours register unless the 24-hour bit is set.
func ReadTime() Time {
	sample := readClockRegisters()
	for {
		again := readClockRegisters()
		if again == sample {
			break
		}
		sample = again
	}

	statusB := readCMOS(rtcRegStatusB)

	if statusB&statusBBinary == 0 {
		sample.second = bcdToBinary(sample.second)
		sample.minute = bcdToBinary(sample.minute)
		sample.hour = bcdToBinary(sample.hour&^hoursPMBit) | (sample.hour & hoursPMBit)
		sample.day = bcdToBinary(sample.day)
		sample.month = bcdToBinary(sample.month)
		sample.year = bcdToBinary(sample.year)
		sample.century = bcdToBinary(sample.century)
	}

	if statusB&statusB24Hour == 0 && sample.hour&hoursPMBit != 0 {
		sample.hour = (sample.hour&^hoursPMBit + 12) % 24
	}

	return Time{
		Year:   uint16(sample.century)*100 + uint16(sample.year),
		Month:  sample.month,
		Day:    sample.day,
		Hour:   sample.hour,
		Minute: sample.minute,
		Second: sample.second,
	}
}
