package templates

const cstaNS = `xmlns="http://www.ecma-international.org/standards/ecma-323/csta/ed4"`

var cstaTemplates = map[string]string{
	"SystemStatus": `<?xml version="1.0" encoding="UTF-8"?>
<SystemStatus ` + cstaNS + `><systemStatus>normal</systemStatus></SystemStatus>`,

	"SystemStatusResponse": `<?xml version="1.0" encoding="UTF-8"?>
<SystemStatusResponse ` + cstaNS + `/>`,

	"SystemRegister": `<?xml version="1.0" encoding="UTF-8"?>
<SystemRegister ` + cstaNS + `><requestTypes><systemStatus>true</systemStatus></requestTypes></SystemRegister>`,

	"SystemRegisterResponse": `<?xml version="1.0" encoding="UTF-8"?>
<SystemRegisterResponse ` + cstaNS + `><sysStatRegisterID>{sysStatRegisterID}</sysStatRegisterID></SystemRegisterResponse>`,

	"MonitorStart": `<?xml version="1.0" encoding="UTF-8"?>
<MonitorStart ` + cstaNS + `><monitorObject><deviceObject>{deviceID}</deviceObject></monitorObject><requestedMonitorMediaClass><voice>true</voice></requestedMonitorMediaClass></MonitorStart>`,

	"MonitorStartResponse": `<?xml version="1.0" encoding="UTF-8"?>
<MonitorStartResponse ` + cstaNS + `><monitorCrossRefID>{monitorCrossRefID}</monitorCrossRefID><actualMonitorMediaClass><voice>true</voice></actualMonitorMediaClass></MonitorStartResponse>`,

	"MonitorStop": `<?xml version="1.0" encoding="UTF-8"?>
<MonitorStop ` + cstaNS + `><monitorCrossRefID>{monitorCrossRefID}</monitorCrossRefID></MonitorStop>`,

	"MonitorStopResponse": `<?xml version="1.0" encoding="UTF-8"?>
<MonitorStopResponse ` + cstaNS + `/>`,

	"MakeCall": `<?xml version="1.0" encoding="UTF-8"?>
<MakeCall ` + cstaNS + `><callingDevice>{callingDevice}</callingDevice><calledDirectoryNumber>{calledDirectoryNumber}</calledDirectoryNumber><autoOriginate>doNotPrompt</autoOriginate></MakeCall>`,

	"MakeCallResponse": `<?xml version="1.0" encoding="UTF-8"?>
<MakeCallResponse ` + cstaNS + `><callingDevice><callID>{callID}</callID><deviceID>{deviceID}</deviceID></callingDevice><calledDevice>{calledDevice}</calledDevice></MakeCallResponse>`,

	"ClearConnection": `<?xml version="1.0" encoding="UTF-8"?>
<ClearConnection ` + cstaNS + `><connectionToBeCleared><callID>{callID}</callID><deviceID>{deviceID}</deviceID></connectionToBeCleared></ClearConnection>`,

	"ClearConnectionResponse": `<?xml version="1.0" encoding="UTF-8"?>
<ClearConnectionResponse ` + cstaNS + `/>`,

	"ServiceInitiatedEvent": `<?xml version="1.0" encoding="UTF-8"?>
<ServiceInitiatedEvent ` + cstaNS + `><monitorCrossRefID>{monitorCrossRefID}</monitorCrossRefID><initiatedConnection><callID>{callID}</callID><deviceID>{deviceID}</deviceID></initiatedConnection><initiatingDevice><deviceIdentifier>{callingDevice}</deviceIdentifier></initiatingDevice><localConnectionInfo>initiated</localConnectionInfo><cause>makeCall</cause></ServiceInitiatedEvent>`,

	"OriginatedEvent": `<?xml version="1.0" encoding="UTF-8"?>
<OriginatedEvent ` + cstaNS + `><monitorCrossRefID>{monitorCrossRefID}</monitorCrossRefID><originatedConnection><callID>{callID}</callID><deviceID>{deviceID}</deviceID></originatedConnection><callingDevice><deviceIdentifier>{callingDevice}</deviceIdentifier></callingDevice><calledDevice><deviceIdentifier>{calledDevice}</deviceIdentifier></calledDevice><localConnectionInfo>connected</localConnectionInfo><cause>newCall</cause></OriginatedEvent>`,

	"DeliveredEvent": `<?xml version="1.0" encoding="UTF-8"?>
<DeliveredEvent ` + cstaNS + `><monitorCrossRefID>{monitorCrossRefID}</monitorCrossRefID><connection><callID>{callID}</callID><deviceID>{deviceID}</deviceID></connection><alertingDevice><deviceIdentifier>{calledDevice}</deviceIdentifier></alertingDevice><callingDevice><deviceIdentifier>{callingDevice}</deviceIdentifier></callingDevice><calledDevice><deviceIdentifier>{calledDevice}</deviceIdentifier></calledDevice><localConnectionInfo>{localConnectionInfo}</localConnectionInfo><cause>newCall</cause></DeliveredEvent>`,

	"EstablishedEvent": `<?xml version="1.0" encoding="UTF-8"?>
<EstablishedEvent ` + cstaNS + `><monitorCrossRefID>{monitorCrossRefID}</monitorCrossRefID><establishedConnection><callID>{callID}</callID><deviceID>{deviceID}</deviceID></establishedConnection><answeringDevice><deviceIdentifier>{calledDevice}</deviceIdentifier></answeringDevice><callingDevice><deviceIdentifier>{callingDevice}</deviceIdentifier></callingDevice><calledDevice><deviceIdentifier>{calledDevice}</deviceIdentifier></calledDevice><localConnectionInfo>connected</localConnectionInfo><cause>normal</cause></EstablishedEvent>`,

	"ConnectionClearedEvent": `<?xml version="1.0" encoding="UTF-8"?>
<ConnectionClearedEvent ` + cstaNS + `><monitorCrossRefID>{monitorCrossRefID}</monitorCrossRefID><droppedConnection><callID>{callID}</callID><deviceID>{deviceID}</deviceID></droppedConnection><releasingDevice><deviceIdentifier>{releasingDevice}</deviceIdentifier></releasingDevice><localConnectionInfo>null</localConnectionInfo><cause>normalClearing</cause></ConnectionClearedEvent>`,
}
